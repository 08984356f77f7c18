package workflows

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/tpr-labs/nriy/internal/execution"
	"github.com/tpr-labs/nriy/internal/search"
)

const nowPrefix = "현재 시간: "

type pendingSearch struct {
	kind   search.Kind
	future workflow.Future
}

func (s *Stages) ReplyWorkflow(ctx workflow.Context, input ReplyInput) (ReplyOutput, error) {
	logger := workflow.GetLogger(ctx)
	if err := input.Validate(); err != nil {
		return ReplyOutput{}, execution.ToApplicationError(err)
	}

	var analysis MessageAnalysis
	err := workflow.ExecuteActivity(withActivity(ctx, AnalyzeMessageActivity), AnalyzeMessageActivity, AnalyzeMessageInput{
		Message: input.Message,
	}).Get(ctx, &analysis)
	if err != nil {
		return ReplyOutput{}, fmt.Errorf("analyze message: %w", err)
	}
	if analysis.UsesProfanity {
		logger.Info("message contains profanity, not replying")
		return ReplyOutput{}, nil
	}

	bundle := ContextBundle{Now: ContextSlot{Context: nowPrefix + Now(ctx).Format(time.RFC3339)}}
	if strings.TrimSpace(input.History) != "" {
		bundle.History = &ContextSlot{Context: input.History}
	}

	var contextAnalysis ContextAnalysis
	err = workflow.ExecuteActivity(withActivity(ctx, AnalyzeContextActivity), AnalyzeContextActivity, AnalyzeContextInput{
		History: input.History,
		Message: input.Message,
	}).Get(ctx, &contextAnalysis)
	if err != nil {
		return ReplyOutput{}, fmt.Errorf("analyze context: %w", err)
	}

	kinds := contextAnalysis.Kinds()
	if len(kinds) > 0 && contextAnalysis.QueryString == "" {
		logger.Warn("search requested without a query, skipping", "kinds", kinds)
		kinds = nil
	}

	searchCtx := withActivity(ctx, SearchActivity)
	pending := make([]pendingSearch, 0, len(kinds))
	for _, kind := range kinds {
		pending = append(pending, pendingSearch{
			kind:   kind,
			future: workflow.ExecuteActivity(searchCtx, SearchActivity, SearchInput{Kind: kind, Query: contextAnalysis.QueryString}),
		})
	}
	// Every future is joined before synthesis; a failed search leaves an
	// empty slot.
	for _, p := range pending {
		var result SearchOutput
		if err := p.future.Get(ctx, &result); err != nil {
			logger.Warn("search degraded to empty context", "kind", p.kind, "kind_of_error", execution.KindOf(err), "error", err)
			bundle.set(p.kind, "")
			continue
		}
		bundle.set(p.kind, result.Text)
	}

	var response GenerateResponseOutput
	err = workflow.ExecuteActivity(withActivity(ctx, GenerateResponseActivity), GenerateResponseActivity, GenerateResponseInput{
		History:  input.History,
		Message:  input.Message,
		Contexts: bundle,
	}).Get(ctx, &response)
	if err != nil {
		return ReplyOutput{}, fmt.Errorf("generate response: %w", err)
	}

	text := strings.TrimSpace(response.Text)
	if text == "" {
		logger.Info("empty response, not replying")
		return ReplyOutput{}, nil
	}
	return ReplyOutput{DoReply: true, Text: text}, nil
}
