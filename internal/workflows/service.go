package workflows

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"

	"github.com/tpr-labs/nriy/internal/registry"
)

const (
	DefaultTaskQueue    = "nriy"
	DefaultStageTimeout = 300 * time.Second
)

// Service starts registered stages on Temporal and waits for their result.
type Service struct {
	client       client.Client
	registry     *registry.Registry
	taskQueue    string
	stageTimeout time.Duration
	newID        func() string
}

type ServiceOption func(*Service)

func WithStageTimeout(timeout time.Duration) ServiceOption {
	return func(s *Service) {
		if timeout > 0 {
			s.stageTimeout = timeout
		}
	}
}

func NewService(client client.Client, reg *registry.Registry, taskQueue string, opts ...ServiceOption) *Service {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	service := &Service{
		client:       client,
		registry:     reg,
		taskQueue:    taskQueue,
		stageTimeout: DefaultStageTimeout,
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(service)
		}
	}
	return service
}

func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// Execute validates payload against the stage's input type, runs the stage to
// completion and returns its JSON result.
func (s *Service) Execute(ctx context.Context, stage string, payload json.RawMessage) (json.RawMessage, error) {
	unit, err := s.registry.ResolveWorkflow(stage)
	if err != nil {
		return nil, err
	}
	input, err := unit.Decode(payload)
	if err != nil {
		return nil, err
	}

	options := client.StartWorkflowOptions{
		ID:                       executionID(stage, s.newID()),
		TaskQueue:                s.taskQueue,
		WorkflowExecutionTimeout: s.stageTimeout,
		RetryPolicy:              &temporal.RetryPolicy{MaximumAttempts: 1},
	}
	run, err := s.client.ExecuteWorkflow(ctx, options, unit.Name(), input)
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", stage, err)
	}
	var result json.RawMessage
	if err := run.Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("%s %s: %w", stage, run.GetID(), err)
	}
	return result, nil
}

func executionID(stage string, id string) string {
	return fmt.Sprintf("%s-%s", stage, id)
}
