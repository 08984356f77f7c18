package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/tpr-labs/nriy/internal/execution"
	"github.com/tpr-labs/nriy/internal/metrics"
	"github.com/tpr-labs/nriy/internal/registry"
)

type MockStageRunner struct {
	mock.Mock
}

func (m *MockStageRunner) Execute(ctx context.Context, stage string, payload json.RawMessage) (json.RawMessage, error) {
	args := m.Called(ctx, stage, string(payload))
	var result json.RawMessage
	if value := args.Get(0); value != nil {
		result = value.(json.RawMessage)
	}
	return result, args.Error(1)
}

type noteInput struct {
	Text string `json:"text"`
}

func (in noteInput) Validate() error {
	if strings.TrimSpace(in.Text) == "" {
		return errors.New("text is required")
	}
	return nil
}

type noteOutput struct {
	Text string `json:"text"`
}

func testRegistry(t *testing.T, flakyFailures int) *registry.Registry {
	t.Helper()
	options := execution.Options{
		StartToClose: time.Second,
		Retry:        execution.Policy{InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, MaxAttempts: 3},
	}
	calls := 0
	reg := registry.New()
	require.NoError(t, reg.RegisterActivity(registry.NewActivity("Echo", options, func(_ context.Context, in noteInput) (noteOutput, error) {
		return noteOutput{Text: in.Text}, nil
	})))
	require.NoError(t, reg.RegisterActivity(registry.NewActivity("Flaky", options, func(_ context.Context, in noteInput) (noteOutput, error) {
		calls++
		if calls <= flakyFailures {
			return noteOutput{}, errors.New("connection reset")
		}
		return noteOutput{Text: in.Text}, nil
	})))
	require.NoError(t, reg.RegisterActivity(registry.NewActivity("Rejected", options, func(_ context.Context, in noteInput) (noteOutput, error) {
		return noteOutput{}, execution.Upstream("llm", errors.New("401 unauthorized"))
	})))
	require.NoError(t, reg.RegisterWorkflow(registry.NewWorkflow("router", func(_ workflow.Context, in noteInput) (noteOutput, error) {
		return noteOutput{}, nil
	})))
	return reg
}

func newTestServer(t *testing.T, stages StageRunner, opts ...Option) *httptest.Server {
	t.Helper()
	opts = append([]Option{WithExecutor(execution.Executor{
		Sleep: func(context.Context, time.Duration) error { return nil },
	})}, opts...)
	server := NewServer(testRegistry(t, 2), stages, metrics.New(), opts...)
	return httptest.NewServer(server.Router())
}

func post(t *testing.T, url string, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(raw, &payload), string(raw))
	return resp, payload
}

func TestHealth(t *testing.T) {
	server := newTestServer(t, &MockStageRunner{})
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var payload map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Equal(t, "ok", payload["status"])
}

func TestReady(t *testing.T) {
	t.Run("ready when dependencies healthy", func(t *testing.T) {
		server := newTestServer(t, &MockStageRunner{}, WithReadinessCheck("store", func(context.Context) error { return nil }))
		defer server.Close()

		resp, err := http.Get(server.URL + "/ready")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var payload readinessResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
		require.Equal(t, "ok", payload.Status)
		require.Equal(t, "ok", payload.Subsystems["store"].Status)
	})

	t.Run("degraded when a check fails", func(t *testing.T) {
		server := newTestServer(t, &MockStageRunner{},
			WithReadinessCheck("store", func(context.Context) error { return errors.New("connection refused") }),
			WithReadinessCheck("temporal", func(context.Context) error { return nil }),
		)
		defer server.Close()

		resp, err := http.Get(server.URL + "/ready")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

		var payload readinessResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
		require.Equal(t, "degraded", payload.Status)
		require.Equal(t, "connection refused", payload.Subsystems["store"].Error)
		require.Equal(t, "ok", payload.Subsystems["temporal"].Status)
	})
}

func TestRunStage_ReturnsResult(t *testing.T) {
	stages := &MockStageRunner{}
	stages.On("Execute", mock.Anything, "router", `{"text":"hi"}`).
		Return(json.RawMessage(`{"did_reply":false,"reply_text":null}`), nil).Once()
	server := newTestServer(t, stages)
	defer server.Close()

	resp, payload := post(t, server.URL+"/stages/router", `{"text":"hi"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, false, payload["did_reply"])
	stages.AssertExpectations(t)
}

func TestRunStage_MapsErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{name: "unknown stage", err: &registry.NotFoundError{Kind: "stage", Name: "nriy_v2", Known: []string{"reply", "router"}}, status: http.StatusNotFound, kind: "NotFound"},
		{name: "invalid input", err: execution.Validation("router", "logId is required"), status: http.StatusBadRequest, kind: "ValidationError"},
		{name: "stage timeout", err: temporal.NewTimeoutError(0, nil), status: http.StatusGatewayTimeout, kind: "Timeout"},
		{name: "upstream rejected", err: temporal.NewNonRetryableApplicationError("401", "UpstreamRejected", nil), status: http.StatusBadGateway, kind: "UpstreamRejected"},
		{name: "internal", err: errors.New("boom"), status: http.StatusInternalServerError, kind: "Internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stages := &MockStageRunner{}
			stages.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.err).Once()
			server := newTestServer(t, stages)
			defer server.Close()

			resp, payload := post(t, server.URL+"/stages/router", `{}`)
			require.Equal(t, tt.status, resp.StatusCode)
			require.Equal(t, tt.kind, payload["kind"])
			require.Equal(t, tt.err.Error(), payload["error"])
		})
	}
}

func TestRunActivity_RetriesThenSucceeds(t *testing.T) {
	server := newTestServer(t, &MockStageRunner{})
	defer server.Close()

	resp, payload := post(t, server.URL+"/activities/Flaky", `{"text":"hi"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "hi", payload["text"])
}

func TestRunActivity_Errors(t *testing.T) {
	server := newTestServer(t, &MockStageRunner{})
	defer server.Close()

	resp, payload := post(t, server.URL+"/activities/Missing", `{"text":"hi"}`)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Contains(t, payload["error"], "known: Echo, Flaky, Rejected")

	resp, _ = post(t, server.URL+"/activities/Echo", `{"text":""}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = post(t, server.URL+"/activities/Echo", ``)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, payload = post(t, server.URL+"/activities/Rejected", `{"text":"hi"}`)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	require.Equal(t, "UpstreamRejected", payload["kind"])
}

func TestListStages(t *testing.T) {
	server := newTestServer(t, &MockStageRunner{})
	defer server.Close()

	resp, err := http.Get(server.URL + "/stages")
	require.NoError(t, err)
	defer resp.Body.Close()

	var names registry.Names
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&names))
	require.Equal(t, []string{"router"}, names.Workflows)
	require.Equal(t, []string{"Echo", "Flaky", "Rejected"}, names.Activities)
}

func TestMetricsEndpointCountsStages(t *testing.T) {
	stages := &MockStageRunner{}
	stages.On("Execute", mock.Anything, "router", mock.Anything).Return(json.RawMessage(`{}`), nil).Once()
	server := newTestServer(t, stages)
	defer server.Close()

	resp, _ := post(t, server.URL+"/stages/router", `{"text":"hi"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	metricsResp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	body, err := io.ReadAll(metricsResp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `nriy_stage_executions_total{outcome="ok",stage="router"} 1`)
}

func TestStatusFor(t *testing.T) {
	require.Equal(t, http.StatusBadGateway, StatusFor(execution.KindRetriesExhausted))
	require.Equal(t, http.StatusInternalServerError, StatusFor(execution.KindInternal))
}

func TestShouldSuppressRequestLog(t *testing.T) {
	require.True(t, shouldSuppressRequestLog(http.MethodGet, "/health"))
	require.True(t, shouldSuppressRequestLog(http.MethodGet, "/metrics"))
	require.False(t, shouldSuppressRequestLog(http.MethodPost, "/stages/router"))
}
