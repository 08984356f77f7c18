package workflows

import (
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/workflow"

	"github.com/tpr-labs/nriy/internal/execution"
	"github.com/tpr-labs/nriy/internal/registry"
)

const (
	RouterWorkflowName = "router"
	ReplyWorkflowName  = "reply"

	AddChatHistoryActivity   = "AddChatHistory"
	GetChatHistoryActivity   = "GetChatHistory"
	AnalyzeMessageActivity   = "AnalyzeMessage"
	AnalyzeContextActivity   = "AnalyzeContext"
	SearchActivity           = "Search"
	GenerateResponseActivity = "GenerateResponse"
)

// ActivityOptions declares the timeout and retry policy of every activity.
var ActivityOptions = map[string]execution.Options{
	AddChatHistoryActivity:   {StartToClose: 10 * time.Second, Retry: execution.DefaultPolicy()},
	GetChatHistoryActivity:   {StartToClose: 10 * time.Second, Retry: execution.DefaultPolicy()},
	AnalyzeMessageActivity:   {StartToClose: 30 * time.Second, Retry: execution.DefaultPolicy()},
	AnalyzeContextActivity:   {StartToClose: 30 * time.Second, Retry: execution.DefaultPolicy()},
	SearchActivity:           {StartToClose: 30 * time.Second, Retry: execution.DefaultPolicy()},
	GenerateResponseActivity: {StartToClose: 30 * time.Second, Retry: execution.DefaultPolicy()},
}

// NewRegistry lists every stage and activity the worker serves. The caller
// seals it by installing it on a worker.
func NewRegistry(acts *Activities, stages *Stages) (*registry.Registry, error) {
	reg := registry.New()
	for _, a := range []registry.Activity{
		registry.NewActivity(AddChatHistoryActivity, ActivityOptions[AddChatHistoryActivity], acts.AddChatHistory),
		registry.NewActivity(GetChatHistoryActivity, ActivityOptions[GetChatHistoryActivity], acts.GetChatHistory),
		registry.NewActivity(AnalyzeMessageActivity, ActivityOptions[AnalyzeMessageActivity], acts.AnalyzeMessage),
		registry.NewActivity(AnalyzeContextActivity, ActivityOptions[AnalyzeContextActivity], acts.AnalyzeContext),
		registry.NewActivity(SearchActivity, ActivityOptions[SearchActivity], acts.Search),
		registry.NewActivity(GenerateResponseActivity, ActivityOptions[GenerateResponseActivity], acts.GenerateResponse),
	} {
		if err := reg.RegisterActivity(a); err != nil {
			return nil, err
		}
	}
	for _, w := range []registry.Workflow{
		registry.NewWorkflow(RouterWorkflowName, stages.RouterWorkflow),
		registry.NewWorkflow(ReplyWorkflowName, stages.ReplyWorkflow),
	} {
		if err := reg.RegisterWorkflow(w); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func withActivity(ctx workflow.Context, name string) workflow.Context {
	return workflow.WithActivityOptions(ctx, ActivityOptions[name].ActivityOptions())
}

// Now is the replay-safe current time of a stage.
func Now(ctx workflow.Context) time.Time {
	return workflow.Now(ctx).UTC()
}

// NewID returns a random id recorded in history so replays see the same value.
func NewID(ctx workflow.Context) string {
	var id string
	encoded := workflow.SideEffect(ctx, func(workflow.Context) interface{} {
		return uuid.NewString()
	})
	if err := encoded.Get(&id); err != nil || id == "" {
		return Now(ctx).Format("20060102150405.000000000")
	}
	return id
}
