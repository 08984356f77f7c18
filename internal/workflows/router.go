package workflows

import (
	"fmt"
	"strings"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/workflow"

	"github.com/tpr-labs/nriy/internal/execution"
	"github.com/tpr-labs/nriy/internal/personality"
	"github.com/tpr-labs/nriy/internal/store"
)

const (
	DefaultCommandPrefix = "/"
	DefaultReplyTimeout  = 120 * time.Second
	AssistantUserID      = "assistant"
)

// StageConfig is shared by every worker, so stages read it as constant input.
type StageConfig struct {
	HistoryLimit  int
	CommandPrefix string
	BotName       string
	ReplyTimeout  time.Duration
}

type Stages struct {
	cfg StageConfig
}

func NewStages(cfg StageConfig) *Stages {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = store.DefaultHistoryLimit
	}
	if cfg.CommandPrefix == "" {
		cfg.CommandPrefix = DefaultCommandPrefix
	}
	if strings.TrimSpace(cfg.BotName) == "" {
		cfg.BotName = personality.DefaultName
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = DefaultReplyTimeout
	}
	return &Stages{cfg: cfg}
}

// DecideReply reports whether the bot should answer body: a command starting
// with prefix, or a message mentioning @botName.
func DecideReply(body string, prefix string, botName string) bool {
	body = strings.TrimSpace(body)
	if body == "" {
		return false
	}
	if prefix != "" && strings.HasPrefix(body, prefix) {
		return true
	}
	return botName != "" && strings.Contains(body, "@"+botName)
}

// ReplyWorkflowID is derived from the inbound message so one message never
// gets two successful reply stages.
func ReplyWorkflowID(messageID string) string {
	return ReplyWorkflowName + "-" + messageID
}

// replyOptions lets a redelivered message start a new reply stage only when
// the previous one for the same message failed, timed out or was terminated.
func (s *Stages) replyOptions(messageID string) workflow.ChildWorkflowOptions {
	return workflow.ChildWorkflowOptions{
		WorkflowID:               ReplyWorkflowID(messageID),
		WorkflowExecutionTimeout: s.cfg.ReplyTimeout,
		ParentClosePolicy:        enumspb.PARENT_CLOSE_POLICY_TERMINATE,
		WorkflowIDReusePolicy:    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE_FAILED_ONLY,
	}
}

func (s *Stages) RouterWorkflow(ctx workflow.Context, msg InboundMessage) (RouterOutput, error) {
	logger := workflow.GetLogger(ctx)
	if err := msg.Validate(); err != nil {
		return RouterOutput{}, execution.ToApplicationError(err)
	}
	receivedAt := Now(ctx)

	var added AddChatHistoryOutput
	err := workflow.ExecuteActivity(withActivity(ctx, AddChatHistoryActivity), AddChatHistoryActivity, AddChatHistoryInput{
		MessageID: msg.LogID,
		ChatID:    msg.ChannelID,
		ChatName:  msg.Room,
		UserID:    msg.AuthorID(),
		UserName:  msg.AuthorName(),
		Body:      msg.Content,
		CreatedAt: receivedAt,
	}).Get(ctx, &added)
	if err != nil {
		return RouterOutput{}, fmt.Errorf("persist inbound message: %w", err)
	}

	var window HistoryWindow
	err = workflow.ExecuteActivity(withActivity(ctx, GetChatHistoryActivity), GetChatHistoryActivity, GetChatHistoryInput{
		ChatID: msg.ChannelID,
		Limit:  s.cfg.HistoryLimit,
	}).Get(ctx, &window)
	if err != nil {
		return RouterOutput{}, fmt.Errorf("load chat history: %w", err)
	}

	if !DecideReply(msg.Content, s.cfg.CommandPrefix, s.cfg.BotName) {
		logger.Debug("no reply needed", "message_id", msg.LogID)
		return RouterOutput{}, nil
	}

	childCtx := workflow.WithChildOptions(ctx, s.replyOptions(msg.LogID))
	var reply ReplyOutput
	err = workflow.ExecuteChildWorkflow(childCtx, ReplyWorkflowName, ReplyInput{
		History: window.Format(),
		Message: msg.Content,
	}).Get(ctx, &reply)
	if err != nil {
		return RouterOutput{}, fmt.Errorf("reply stage: %w", err)
	}
	if !reply.DoReply {
		logger.Info("reply suppressed", "message_id", msg.LogID)
		return RouterOutput{}, nil
	}

	err = workflow.ExecuteActivity(withActivity(ctx, AddChatHistoryActivity), AddChatHistoryActivity, AddChatHistoryInput{
		MessageID: "msg-" + NewID(ctx),
		ChatID:    msg.ChannelID,
		ChatName:  msg.Room,
		UserID:    AssistantUserID,
		UserName:  s.cfg.BotName,
		Body:      reply.Text,
		CreatedAt: Now(ctx),
	}).Get(ctx, nil)
	if err != nil {
		return RouterOutput{}, fmt.Errorf("persist reply: %w", err)
	}

	text := reply.Text
	return RouterOutput{DidReply: true, ReplyText: &text}, nil
}
