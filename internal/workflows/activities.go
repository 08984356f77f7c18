package workflows

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tpr-labs/nriy/internal/execution"
	"github.com/tpr-labs/nriy/internal/llm"
	"github.com/tpr-labs/nriy/internal/personality"
	"github.com/tpr-labs/nriy/internal/search"
	"github.com/tpr-labs/nriy/internal/store"
)

const (
	messageAnalysisPrompt = `You are a message analysis system. Analyze the given message and provide structured information.
Respond with a JSON object of the form {"uses_profanity": boolean}, where uses_profanity indicates whether the message contains profanity or offensive language.`

	contextAnalysisPrompt = `You are a context analyzer. Analyze the chat history and current message to determine:
1. What actions would be helpful for responding
2. What information would be needed
3. What would be the best approach

Consider the context from chat history when making decisions.
Respond with a JSON object with these fields:
- news_search (boolean): whether news search results would be helpful for answering
- blog_search (boolean): whether blog search results would be helpful for answering
- web_search (boolean): whether general web search results would be helpful for answering
- query_string (string): suggested Korean search keyword or phrase to use if search is needed`

	responsePrompt = "Please refer to the following information:\n```\n" +
		"# Current Information\n%s\n\n" +
		"# Past Conversation\n%s\n\n" +
		"# Search Results\n%s\n%s\n%s\n```\n\n" +
		"The following conversation is currently taking place in the chat:\n```\n%s\n```\n\n" +
		"In this situation, when the following message is added, generate the most appropriate response.\n" +
		"Do not include any other text. Do not start with \"%s: \".\n```\n%s\n```"
)

// Activities holds the collaborators every activity needs. Activities run
// both on the worker and in-process from the trigger, so they log through an
// injected slog logger.
type Activities struct {
	store      store.Store
	classifier llm.Provider
	writer     llm.Provider
	searcher   search.Provider
	botName    string
	persona    string
	logger     *slog.Logger
	now        func() time.Time
}

type ActivitiesOption func(*Activities)

func WithBotName(name string) ActivitiesOption {
	return func(a *Activities) {
		if strings.TrimSpace(name) != "" {
			a.botName = strings.TrimSpace(name)
		}
	}
}

// WithPersona overrides the synthesis system prompt.
func WithPersona(persona string) ActivitiesOption {
	return func(a *Activities) {
		if strings.TrimSpace(persona) != "" {
			a.persona = strings.TrimSpace(persona)
		}
	}
}

func WithLogger(logger *slog.Logger) ActivitiesOption {
	return func(a *Activities) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func NewActivities(st store.Store, classifier llm.Provider, writer llm.Provider, searcher search.Provider, opts ...ActivitiesOption) *Activities {
	activities := &Activities{
		store:      st,
		classifier: classifier,
		writer:     writer,
		searcher:   searcher,
		botName:    personality.DefaultName,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(activities)
		}
	}
	if activities.persona == "" {
		activities.persona = personality.Default(activities.botName)
	}
	return activities
}

// AddChatHistory upserts the author, the chat and then the message. Every
// write is keyed by id, so a retried attempt rewrites the same records.
func (a *Activities) AddChatHistory(ctx context.Context, input AddChatHistoryInput) (AddChatHistoryOutput, error) {
	if err := input.Validate(); err != nil {
		return AddChatHistoryOutput{}, err
	}
	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = a.now()
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return a.store.UpsertUser(groupCtx, store.User{ID: input.UserID, Name: input.UserName})
	})
	group.Go(func() error {
		return a.store.UpsertChat(groupCtx, store.Chat{ID: input.ChatID, Name: input.ChatName})
	})
	if err := group.Wait(); err != nil {
		return AddChatHistoryOutput{}, fmt.Errorf("upsert author and chat: %w", err)
	}

	err := a.store.UpsertMessage(ctx, store.Message{
		ID:        input.MessageID,
		ChatID:    input.ChatID,
		UserID:    input.UserID,
		Body:      input.Body,
		CreatedAt: createdAt.UTC(),
	})
	if err != nil {
		return AddChatHistoryOutput{}, fmt.Errorf("upsert message %s: %w", input.MessageID, err)
	}
	a.logger.Debug("chat history added", "message_id", input.MessageID, "chat_id", input.ChatID)
	return AddChatHistoryOutput{MessageID: input.MessageID}, nil
}

func (a *Activities) GetChatHistory(ctx context.Context, input GetChatHistoryInput) (HistoryWindow, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	entries, err := a.store.ListHistory(ctx, store.HistoryQuery{ChatID: input.ChatID, Limit: input.Limit})
	if err != nil {
		return nil, fmt.Errorf("list history for chat %s: %w", input.ChatID, err)
	}
	return HistoryWindow(entries), nil
}

func (a *Activities) AnalyzeMessage(ctx context.Context, input AnalyzeMessageInput) (MessageAnalysis, error) {
	var analysis MessageAnalysis
	err := a.classifier.GenerateJSON(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: messageAnalysisPrompt},
		{Role: llm.RoleUser, Content: input.Message},
	}, &analysis)
	if err != nil {
		return MessageAnalysis{}, fmt.Errorf("analyze message: %w", err)
	}
	return analysis, nil
}

func (a *Activities) AnalyzeContext(ctx context.Context, input AnalyzeContextInput) (ContextAnalysis, error) {
	var analysis ContextAnalysis
	err := a.classifier.GenerateJSON(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: contextAnalysisPrompt},
		{Role: llm.RoleSystem, Content: "Chat History:\n" + input.History},
		{Role: llm.RoleUser, Content: "Current Message: " + input.Message},
	}, &analysis)
	if err != nil {
		return ContextAnalysis{}, fmt.Errorf("analyze context: %w", err)
	}
	analysis.QueryString = strings.TrimSpace(analysis.QueryString)
	return analysis, nil
}

func (a *Activities) Search(ctx context.Context, input SearchInput) (SearchOutput, error) {
	if a.searcher == nil {
		return SearchOutput{}, execution.Upstream(SearchActivity, errors.New("search provider is not configured"))
	}
	text, err := a.searcher.Search(ctx, input.Kind, input.Query)
	if err != nil {
		return SearchOutput{}, fmt.Errorf("%s search: %w", input.Kind, err)
	}
	return SearchOutput{Text: text}, nil
}

func (a *Activities) GenerateResponse(ctx context.Context, input GenerateResponseInput) (GenerateResponseOutput, error) {
	contexts := input.Contexts
	prompt := fmt.Sprintf(responsePrompt,
		contexts.Now.Context,
		slotText(contexts.History),
		slotText(contexts.News),
		slotText(contexts.Blog),
		slotText(contexts.Web),
		input.History,
		a.botName,
		input.Message,
	)
	text, err := a.writer.Generate(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: a.persona},
		{Role: llm.RoleUser, Content: prompt},
	})
	if err != nil {
		return GenerateResponseOutput{}, fmt.Errorf("generate response: %w", err)
	}
	return GenerateResponseOutput{Text: trimSpeakerPrefix(text, a.botName)}, nil
}

// trimSpeakerPrefix drops a leading "<name>:" that models add despite the
// instruction.
func trimSpeakerPrefix(text string, name string) string {
	text = strings.TrimSpace(text)
	if rest, ok := strings.CutPrefix(text, name+":"); ok {
		return strings.TrimSpace(rest)
	}
	return text
}
