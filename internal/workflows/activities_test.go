package workflows

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tpr-labs/nriy/internal/execution"
	"github.com/tpr-labs/nriy/internal/llm"
	"github.com/tpr-labs/nriy/internal/search"
	"github.com/tpr-labs/nriy/internal/store"
	"github.com/tpr-labs/nriy/internal/store/memory"
)

type fakeProvider struct {
	text     string
	json     string
	err      error
	messages [][]llm.Message
}

func (f *fakeProvider) Generate(_ context.Context, messages []llm.Message) (string, error) {
	f.messages = append(f.messages, messages)
	return f.text, f.err
}

func (f *fakeProvider) GenerateJSON(_ context.Context, messages []llm.Message, out any) error {
	f.messages = append(f.messages, messages)
	if f.err != nil {
		return f.err
	}
	return json.Unmarshal([]byte(f.json), out)
}

type fakeSearcher struct {
	results map[search.Kind]string
	err     error
}

func (f fakeSearcher) Search(_ context.Context, kind search.Kind, query string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.results[kind], nil
}

func TestAddChatHistoryIsIdempotent(t *testing.T) {
	st := memory.New()
	acts := NewActivities(st, &fakeProvider{}, &fakeProvider{}, fakeSearcher{})
	ctx := context.Background()
	createdAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	input := AddChatHistoryInput{
		MessageID: "log-1",
		ChatID:    "chan-1",
		ChatName:  "general",
		UserID:    "u-1",
		UserName:  "kim",
		Body:      "hello",
		CreatedAt: createdAt,
	}

	out, err := acts.AddChatHistory(ctx, input)
	require.NoError(t, err)
	require.Equal(t, "log-1", out.MessageID)
	_, err = acts.AddChatHistory(ctx, input)
	require.NoError(t, err)

	window, err := acts.GetChatHistory(ctx, GetChatHistoryInput{ChatID: "chan-1"})
	require.NoError(t, err)
	require.Len(t, window, 1)
	require.Equal(t, "kim", window[0].AuthorName)
	require.Equal(t, "general", window[0].ChatName)
	require.True(t, createdAt.Equal(window[0].CreatedAt))

	user, err := st.GetUser(ctx, "u-1")
	require.NoError(t, err)
	require.Equal(t, "kim", user.Name)
}

func TestAddChatHistoryDefaultsCreatedAt(t *testing.T) {
	st := memory.New()
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	acts := NewActivities(st, &fakeProvider{}, &fakeProvider{}, fakeSearcher{})
	acts.now = func() time.Time { return fixed }

	_, err := acts.AddChatHistory(context.Background(), AddChatHistoryInput{MessageID: "m", ChatID: "c", UserID: "u"})
	require.NoError(t, err)
	msg, err := st.GetMessage(context.Background(), "m")
	require.NoError(t, err)
	require.True(t, fixed.Equal(msg.CreatedAt))

	_, err = acts.AddChatHistory(context.Background(), AddChatHistoryInput{MessageID: "m"})
	require.ErrorIs(t, err, execution.ErrValidation)
}

func TestGetChatHistoryBoundsWindow(t *testing.T) {
	st := memory.New()
	acts := NewActivities(st, &fakeProvider{}, &fakeProvider{}, fakeSearcher{})
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 20; i++ {
		_, err := acts.AddChatHistory(ctx, AddChatHistoryInput{
			MessageID: "m-" + string(rune('a'+i)),
			ChatID:    "c",
			UserID:    "u",
			Body:      "body",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	window, err := acts.GetChatHistory(ctx, GetChatHistoryInput{ChatID: "c"})
	require.NoError(t, err)
	require.Len(t, window, store.DefaultHistoryLimit)
	require.Equal(t, "m-t", window[0].MessageID)

	window, err = acts.GetChatHistory(ctx, GetChatHistoryInput{ChatID: "c", Limit: 3})
	require.NoError(t, err)
	require.Len(t, window, 3)
}

func TestAnalyzeMessageDecodesClassifierJSON(t *testing.T) {
	classifier := &fakeProvider{json: `{"uses_profanity": true}`}
	acts := NewActivities(memory.New(), classifier, &fakeProvider{}, fakeSearcher{})

	analysis, err := acts.AnalyzeMessage(context.Background(), AnalyzeMessageInput{Message: "bad words"})
	require.NoError(t, err)
	require.True(t, analysis.UsesProfanity)
	require.Len(t, classifier.messages, 1)
	require.Equal(t, llm.RoleSystem, classifier.messages[0][0].Role)
	require.Equal(t, "bad words", classifier.messages[0][1].Content)
}

func TestAnalyzeContextTrimsQuery(t *testing.T) {
	classifier := &fakeProvider{json: `{"news_search": true, "web_search": true, "query_string": "  환율  "}`}
	acts := NewActivities(memory.New(), classifier, &fakeProvider{}, fakeSearcher{})

	analysis, err := acts.AnalyzeContext(context.Background(), AnalyzeContextInput{History: "a: b", Message: "환율?"})
	require.NoError(t, err)
	require.Equal(t, "환율", analysis.QueryString)
	require.Equal(t, []search.Kind{search.KindNews, search.KindWeb}, analysis.Kinds())
	require.Contains(t, classifier.messages[0][1].Content, "a: b")
}

func TestAnalyzeKeepsUpstreamKind(t *testing.T) {
	classifier := &fakeProvider{err: execution.Upstream("llm", errors.New("401"))}
	acts := NewActivities(memory.New(), classifier, &fakeProvider{}, fakeSearcher{})

	_, err := acts.AnalyzeMessage(context.Background(), AnalyzeMessageInput{Message: "x"})
	require.ErrorIs(t, err, execution.ErrUpstreamRejected)
}

func TestSearchActivity(t *testing.T) {
	acts := NewActivities(memory.New(), &fakeProvider{}, &fakeProvider{}, fakeSearcher{
		results: map[search.Kind]string{search.KindBlog: "- title: blog\n"},
	})
	out, err := acts.Search(context.Background(), SearchInput{Kind: search.KindBlog, Query: "q"})
	require.NoError(t, err)
	require.Equal(t, "- title: blog\n", out.Text)

	out, err = acts.Search(context.Background(), SearchInput{Kind: search.KindNews, Query: "q"})
	require.NoError(t, err)
	require.Empty(t, out.Text)

	none := NewActivities(memory.New(), &fakeProvider{}, &fakeProvider{}, nil)
	_, err = none.Search(context.Background(), SearchInput{Kind: search.KindNews, Query: "q"})
	require.ErrorIs(t, err, execution.ErrUpstreamRejected)
}

func TestGenerateResponseBuildsPrompt(t *testing.T) {
	writer := &fakeProvider{text: "나란잉여: 알겠습니다"}
	acts := NewActivities(memory.New(), &fakeProvider{}, writer, fakeSearcher{})

	out, err := acts.GenerateResponse(context.Background(), GenerateResponseInput{
		History: "kim: hi",
		Message: "/뉴스",
		Contexts: ContextBundle{
			Now:  ContextSlot{Context: "현재 시간: 2024-05-01T12:00:00Z"},
			News: &ContextSlot{Context: "- title: headline"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "알겠습니다", out.Text)

	require.Len(t, writer.messages, 1)
	system, user := writer.messages[0][0], writer.messages[0][1]
	require.Equal(t, llm.RoleSystem, system.Role)
	require.Contains(t, system.Content, "나란잉여")
	require.Contains(t, user.Content, "# Current Information\n현재 시간: 2024-05-01T12:00:00Z")
	require.Contains(t, user.Content, "- title: headline")
	require.Contains(t, user.Content, "kim: hi")
	require.True(t, strings.HasSuffix(user.Content, "/뉴스\n```"))
}

func TestActivitiesOptions(t *testing.T) {
	acts := NewActivities(memory.New(), &fakeProvider{}, &fakeProvider{}, fakeSearcher{}, WithBotName("nriy"), WithPersona("be brief"), nil)
	require.Equal(t, "nriy", acts.botName)
	require.Equal(t, "be brief", acts.persona)

	acts = NewActivities(memory.New(), &fakeProvider{}, &fakeProvider{}, fakeSearcher{}, WithBotName("nriy"))
	require.Contains(t, acts.persona, `"nriy"`)
}

func TestNewRegistryListsEveryUnit(t *testing.T) {
	acts := NewActivities(memory.New(), &fakeProvider{}, &fakeProvider{}, fakeSearcher{})
	reg, err := NewRegistry(acts, NewStages(StageConfig{}))
	require.NoError(t, err)

	names := reg.Names()
	require.Equal(t, []string{"AddChatHistory", "AnalyzeContext", "AnalyzeMessage", "GenerateResponse", "GetChatHistory", "Search"}, names.Activities)
	require.Equal(t, []string{"reply", "router"}, names.Workflows)

	for _, name := range names.Activities {
		a, err := reg.ResolveActivity(name)
		require.NoError(t, err)
		require.NotZero(t, a.Options().StartToClose)
		require.Equal(t, int32(3), a.Options().ActivityOptions().RetryPolicy.MaximumAttempts)
	}
}

func TestRegistryInvokeRunsActivityInProcess(t *testing.T) {
	acts := NewActivities(memory.New(), &fakeProvider{}, &fakeProvider{}, fakeSearcher{})
	reg, err := NewRegistry(acts, NewStages(StageConfig{}))
	require.NoError(t, err)

	a, err := reg.ResolveActivity(AddChatHistoryActivity)
	require.NoError(t, err)
	out, err := a.Invoke(context.Background(), execution.Executor{}, json.RawMessage(`{"message_id":"m","chat_id":"c","user_id":"u","message":"hi"}`))
	require.NoError(t, err)
	require.Equal(t, AddChatHistoryOutput{MessageID: "m"}, out)

	_, err = a.Invoke(context.Background(), execution.Executor{}, json.RawMessage(`{"chat_id":"c"}`))
	require.ErrorIs(t, err, execution.ErrValidation)
}
