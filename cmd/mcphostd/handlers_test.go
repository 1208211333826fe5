package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mcphostlib/mcphost/config"
	"github.com/mcphostlib/mcphost/host"
	"github.com/mcphostlib/mcphost/protocol"
)

func testConfig(authRequired bool, keys ...string) *config.Config {
	return &config.Config{AuthRequired: authRequired, APIKeys: keys}
}

// stubAPI implements host.API with canned data, for exercising the legacy dashboard
// handlers without a live Engine.
type stubAPI struct {
	servers []host.ServerStatus
	tools   []host.AggregatedTool
	roots   []host.Root
}

func (stubAPI) Start(context.Context) error { return nil }
func (stubAPI) Stop(context.Context) error  { return nil }

func (stubAPI) CallTool(context.Context, string, protocol.CallToolParams, ...host.CallOption) (protocol.CallToolResult, error) {
	return protocol.CallToolResult{}, nil
}
func (stubAPI) ReadResource(context.Context, string, protocol.ReadResourceParams, ...host.CallOption) (protocol.ReadResourceResult, error) {
	return protocol.ReadResourceResult{}, nil
}
func (stubAPI) GetPrompt(context.Context, string, protocol.GetPromptParams, ...host.CallOption) (protocol.GetPromptResult, error) {
	return protocol.GetPromptResult{}, nil
}
func (stubAPI) SubscribeResource(context.Context, string, string) error   { return nil }
func (stubAPI) UnsubscribeResource(context.Context, string, string) error { return nil }

func (s stubAPI) SetRoots(ctx context.Context, roots []host.Root) error { return nil }
func (s stubAPI) Roots() []host.Root                                    { return s.roots }

func (s stubAPI) Tools() []host.AggregatedTool                        { return s.tools }
func (stubAPI) Resources() []host.AggregatedResource                  { return nil }
func (stubAPI) ResourceTemplates() []host.AggregatedResourceTemplate   { return nil }
func (stubAPI) Prompts() []host.AggregatedPrompt                       { return nil }
func (s stubAPI) Servers() []host.ServerStatus                         { return s.servers }

func (stubAPI) SuggestServerForURI(string) []host.Suggestion    { return nil }
func (stubAPI) SuggestServerForTool(string) []host.Suggestion   { return nil }
func (stubAPI) SuggestServerForPrompt(string) []host.Suggestion { return nil }

func (stubAPI) Events(int) (<-chan host.Event, func())                { return nil, func() {} }
func (stubAPI) SetSamplingHandler(host.SimpleSamplingFunc)             {}
func (stubAPI) RegisterSamplingSink(host.SamplingSink) func()          { return func() {} }
func (stubAPI) ResolveSampling(string, protocol.SamplingResult, error) {}
func (stubAPI) FailAllSampling([]string, error)                        {}

func TestHandleStatusReportsServerCounts(t *testing.T) {
	api := stubAPI{
		servers: []host.ServerStatus{{ID: "weather", Connected: true}},
		tools:   []host.AggregatedTool{{ServerID: "weather"}},
	}
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()

	handleStatus(api)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("expected a non-empty JSON body")
	}
}

func TestHandleSuggestRequiresQuery(t *testing.T) {
	handler := handleSuggest(func(q string) any { return q })

	req := httptest.NewRequest(http.MethodGet, "/suggest/tool", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 without a q parameter", rec.Code)
	}
}

func TestHandleSuggestPassesQueryThrough(t *testing.T) {
	var seen string
	handler := handleSuggest(func(q string) any {
		seen = q
		return nil
	})

	req := httptest.NewRequest(http.MethodGet, "/suggest/tool?q=weather.get_forecast", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if seen != "weather.get_forecast" {
		t.Errorf("query = %q, want weather.get_forecast", seen)
	}
}

func TestHandleSetRootsRejectsMalformedBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/config/roots", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()

	handleSetRoots(stubAPI{})(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAPIKeyAuthRejectsMissingKey(t *testing.T) {
	cfg := testConfig(true, "secret")
	handler := apiKeyAuth(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAPIKeyAuthAcceptsHeaderKey(t *testing.T) {
	cfg := testConfig(true, "secret")
	handler := apiKeyAuth(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAPIKeyAuthAcceptsQueryKey(t *testing.T) {
	cfg := testConfig(true, "secret")
	handler := apiKeyAuth(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/ws?api_key=secret", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAPIKeyAuthSkippedWhenNotRequired(t *testing.T) {
	cfg := testConfig(false)
	handler := apiKeyAuth(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
