package workflows

import (
	"strings"
	"time"

	"github.com/tpr-labs/nriy/internal/execution"
	"github.com/tpr-labs/nriy/internal/search"
	"github.com/tpr-labs/nriy/internal/store"
)

type Author struct {
	Hash string `json:"hash"`
	Name string `json:"name"`
}

// InboundMessage is the chat ingress payload that starts a router run.
type InboundMessage struct {
	LogID     string `json:"logId"`
	ChannelID string `json:"channelId"`
	Room      string `json:"room"`
	Author    Author `json:"author"`
	Content   string `json:"content"`
}

func (m InboundMessage) Validate() error {
	switch {
	case strings.TrimSpace(m.LogID) == "":
		return execution.Validation(RouterWorkflowName, "logId is required")
	case strings.TrimSpace(m.ChannelID) == "":
		return execution.Validation(RouterWorkflowName, "channelId is required")
	case m.AuthorID() == "":
		return execution.Validation(RouterWorkflowName, "author is required")
	case strings.TrimSpace(m.Content) == "":
		return execution.Validation(RouterWorkflowName, "content is required")
	}
	return nil
}

// AuthorID is the author hash, or the display name when the ingress sends no
// hash.
func (m InboundMessage) AuthorID() string {
	if id := strings.TrimSpace(m.Author.Hash); id != "" {
		return id
	}
	return strings.TrimSpace(m.Author.Name)
}

func (m InboundMessage) AuthorName() string {
	if name := strings.TrimSpace(m.Author.Name); name != "" {
		return name
	}
	return m.AuthorID()
}

// HistoryWindow holds recent messages of one chat, newest first.
type HistoryWindow []store.HistoryEntry

// Format renders the window as a transcript, oldest line first.
func (w HistoryWindow) Format() string {
	var b strings.Builder
	for i := len(w) - 1; i >= 0; i-- {
		entry := w[i]
		author := entry.AuthorName
		if author == "" {
			author = entry.AuthorID
		}
		b.WriteString(author)
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(entry.Body))
		if i > 0 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

type ContextSlot struct {
	Context string `json:"context"`
}

// ContextBundle is what response synthesis sees. Now is always set; the other
// slots are nil when absent.
type ContextBundle struct {
	Now     ContextSlot  `json:"now"`
	History *ContextSlot `json:"history,omitempty"`
	News    *ContextSlot `json:"news,omitempty"`
	Blog    *ContextSlot `json:"blog,omitempty"`
	Web     *ContextSlot `json:"web,omitempty"`
}

func (b *ContextBundle) set(kind search.Kind, text string) {
	slot := &ContextSlot{Context: text}
	switch kind {
	case search.KindNews:
		b.News = slot
	case search.KindBlog:
		b.Blog = slot
	case search.KindWeb:
		b.Web = slot
	}
}

func slotText(slot *ContextSlot) string {
	if slot == nil {
		return ""
	}
	return slot.Context
}

type RouterOutput struct {
	DidReply  bool    `json:"did_reply"`
	ReplyText *string `json:"reply_text"`
}

type ReplyInput struct {
	History string `json:"history"`
	Message string `json:"message"`
}

func (in ReplyInput) Validate() error {
	if strings.TrimSpace(in.Message) == "" {
		return execution.Validation(ReplyWorkflowName, "message is required")
	}
	return nil
}

// ReplyOutput with DoReply false means no reply should be sent.
type ReplyOutput struct {
	DoReply bool   `json:"do_reply"`
	Text    string `json:"text,omitempty"`
}

type AddChatHistoryInput struct {
	MessageID string    `json:"message_id"`
	ChatID    string    `json:"chat_id"`
	ChatName  string    `json:"chat_name"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Body      string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

func (in AddChatHistoryInput) Validate() error {
	switch {
	case strings.TrimSpace(in.MessageID) == "":
		return execution.Validation(AddChatHistoryActivity, "message_id is required")
	case strings.TrimSpace(in.ChatID) == "":
		return execution.Validation(AddChatHistoryActivity, "chat_id is required")
	case strings.TrimSpace(in.UserID) == "":
		return execution.Validation(AddChatHistoryActivity, "user_id is required")
	}
	return nil
}

type AddChatHistoryOutput struct {
	MessageID string `json:"message_id"`
}

type GetChatHistoryInput struct {
	ChatID string `json:"chat_id"`
	Limit  int    `json:"limit"`
}

func (in GetChatHistoryInput) Validate() error {
	if strings.TrimSpace(in.ChatID) == "" {
		return execution.Validation(GetChatHistoryActivity, "chat_id is required")
	}
	return nil
}

type AnalyzeMessageInput struct {
	Message string `json:"message"`
}

func (in AnalyzeMessageInput) Validate() error {
	if strings.TrimSpace(in.Message) == "" {
		return execution.Validation(AnalyzeMessageActivity, "message is required")
	}
	return nil
}

type MessageAnalysis struct {
	UsesProfanity bool `json:"uses_profanity"`
}

type AnalyzeContextInput struct {
	History string `json:"history"`
	Message string `json:"message"`
}

func (in AnalyzeContextInput) Validate() error {
	if strings.TrimSpace(in.Message) == "" {
		return execution.Validation(AnalyzeContextActivity, "message is required")
	}
	return nil
}

type ContextAnalysis struct {
	NewsSearch  bool   `json:"news_search"`
	BlogSearch  bool   `json:"blog_search"`
	WebSearch   bool   `json:"web_search"`
	QueryString string `json:"query_string"`
}

// Kinds returns the requested search kinds in news, blog, web order.
func (a ContextAnalysis) Kinds() []search.Kind {
	var kinds []search.Kind
	if a.NewsSearch {
		kinds = append(kinds, search.KindNews)
	}
	if a.BlogSearch {
		kinds = append(kinds, search.KindBlog)
	}
	if a.WebSearch {
		kinds = append(kinds, search.KindWeb)
	}
	return kinds
}

type SearchInput struct {
	Kind  search.Kind `json:"kind"`
	Query string      `json:"query"`
}

func (in SearchInput) Validate() error {
	if _, err := search.ParseKind(string(in.Kind)); err != nil {
		return execution.Validation(SearchActivity, "%v", err)
	}
	if strings.TrimSpace(in.Query) == "" {
		return execution.Validation(SearchActivity, "query is required")
	}
	return nil
}

type SearchOutput struct {
	Text string `json:"text"`
}

type GenerateResponseInput struct {
	History  string        `json:"history"`
	Message  string        `json:"message"`
	Contexts ContextBundle `json:"contexts"`
}

func (in GenerateResponseInput) Validate() error {
	if strings.TrimSpace(in.Message) == "" {
		return execution.Validation(GenerateResponseActivity, "message is required")
	}
	return nil
}

type GenerateResponseOutput struct {
	Text string `json:"text"`
}
