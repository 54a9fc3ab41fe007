package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/messaging"
	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/BTreeMap/ReplyPipe/internal/store"
	"github.com/BTreeMap/ReplyPipe/internal/strategies"
	"github.com/BTreeMap/ReplyPipe/internal/strategy"
	"github.com/BTreeMap/ReplyPipe/internal/whatsapp"
	"github.com/prometheus/client_golang/prometheus"
)

type apiResult struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *strategy.Manager, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	m := strategy.NewManager(strategy.WithHistorySource(st))
	if err := strategies.RegisterAll(m, nil, strategies.DefaultBusinessInfo(), 0); err != nil {
		t.Fatalf("RegisterAll returned error: %v", err)
	}
	reg := prometheus.NewRegistry()
	strategy.RegisterMetrics(reg)
	opts = append([]Option{WithGatherer(reg)}, opts...)
	return NewServer(m, st, opts...), m, st
}

func do(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, apiResult) {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var res apiResult
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
			t.Fatalf("invalid JSON body %q: %v", rec.Body.String(), err)
		}
	}
	return rec, res
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec, res := do(t, s, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || res.Status != string(models.APIStatusOK) {
		t.Fatalf("unexpected health response %d %+v", rec.Code, res)
	}
}

func TestProcessMessage(t *testing.T) {
	s, m, _ := newTestServer(t)
	rec, res := do(t, s, http.MethodPost, "/messages", `{"message":"quanto custa o corte?","user_id":"5511999990000"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp models.StrategyResponse
	if err := json.Unmarshal(res.Result, &resp); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if !resp.Success || resp.StrategyUsed != strategy.NameSimple {
		t.Errorf("unexpected response %+v", resp)
	}
	if !strings.Contains(resp.Response, "R$35") {
		t.Errorf("expected price in reply, got %q", resp.Response)
	}
	if m.Stats().TotalRequests != 1 {
		t.Errorf("expected 1 request counted, got %d", m.Stats().TotalRequests)
	}
}

func TestProcessMessage_Validation(t *testing.T) {
	s, _, _ := newTestServer(t)
	if rec, _ := do(t, s, http.MethodPost, "/messages", `{not json`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad JSON, got %d", rec.Code)
	}
	if rec, _ := do(t, s, http.MethodPost, "/messages", `{"message":"oi"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing user_id, got %d", rec.Code)
	}
}

func TestStatsAndReset(t *testing.T) {
	s, m, _ := newTestServer(t)
	m.Process(context.Background(), "oi", "u1", "")

	_, res := do(t, s, http.MethodGet, "/stats", "")
	var stats strategy.Stats
	if err := json.Unmarshal(res.Result, &stats); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if stats.TotalRequests != 1 {
		t.Errorf("expected 1 total request, got %d", stats.TotalRequests)
	}

	if rec, _ := do(t, s, http.MethodGet, "/stats/performance", ""); rec.Code != http.StatusOK {
		t.Errorf("expected 200 for performance report, got %d", rec.Code)
	}
	if rec, _ := do(t, s, http.MethodPost, "/stats/reset", ""); rec.Code != http.StatusOK {
		t.Errorf("expected 200 for reset, got %d", rec.Code)
	}
	if m.Stats().TotalRequests != 0 {
		t.Errorf("expected stats reset, got %d", m.Stats().TotalRequests)
	}
}

func TestStrategiesEndpoints(t *testing.T) {
	s, _, _ := newTestServer(t)
	_, res := do(t, s, http.MethodGet, "/strategies", "")
	var names []string
	if err := json.Unmarshal(res.Result, &names); err != nil {
		t.Fatalf("failed to decode strategies: %v", err)
	}
	if len(names) != 1 || names[0] != strategy.NameSimple {
		t.Errorf("unexpected strategies %v", names)
	}

	rec, _ := do(t, s, http.MethodDelete, "/strategies/simple", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 when removing fallback, got %d", rec.Code)
	}
}

func TestCacheEndpoints(t *testing.T) {
	s, m, _ := newTestServer(t)
	m.Process(context.Background(), "oi", "u1", "")
	m.Process(context.Background(), "oi", "u1", "")

	_, res := do(t, s, http.MethodGet, "/cache/stats", "")
	var stats struct {
		Hits int64 `json:"hits"`
	}
	if err := json.Unmarshal(res.Result, &stats); err != nil {
		t.Fatalf("failed to decode cache stats: %v", err)
	}
	if stats.Hits != 1 {
		t.Errorf("expected 1 cache hit, got %d", stats.Hits)
	}
	if rec, _ := do(t, s, http.MethodPost, "/cache/cleanup", ""); rec.Code != http.StatusOK {
		t.Errorf("expected 200 for cleanup, got %d", rec.Code)
	}
}

func TestConversationEndpoint(t *testing.T) {
	s, _, st := newTestServer(t)
	_ = st.AddTurn(models.Turn{UserID: "u1", Role: models.TurnRoleUser, Body: "oi", Time: 1})
	_ = st.AddTurn(models.Turn{UserID: "u1", Role: models.TurnRoleAssistant, Body: "Olá!", Time: 2})

	_, res := do(t, s, http.MethodGet, "/conversations/u1?limit=5", "")
	var turns []models.Turn
	if err := json.Unmarshal(res.Result, &turns); err != nil {
		t.Fatalf("failed to decode turns: %v", err)
	}
	if len(turns) != 2 || turns[0].Body != "oi" {
		t.Errorf("unexpected turns %+v", turns)
	}

	if rec, _ := do(t, s, http.MethodGet, "/conversations/u1?limit=zero", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid limit, got %d", rec.Code)
	}
	_, res = do(t, s, http.MethodGet, "/conversations/nobody", "")
	if string(res.Result) != "[]" {
		t.Errorf("expected empty list for unknown user, got %s", res.Result)
	}
}

func TestSendEndpoint(t *testing.T) {
	client := whatsapp.NewMockClient()
	svc := messaging.NewWhatsAppService(client)
	s, _, _ := newTestServer(t, WithMessagingService(svc))

	rec, _ := do(t, s, http.MethodPost, "/send", `{"to":"+55 11 99999-0000","body":"Promoção de hoje!"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if sent := client.Messages(); len(sent) != 1 || sent[0].To != "5511999990000" {
		t.Errorf("unexpected sends %+v", sent)
	}
	if rec, _ := do(t, s, http.MethodPost, "/send", `{"to":"abc","body":"x"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid recipient, got %d", rec.Code)
	}
}

func TestSendEndpoint_DisabledWithoutService(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec, _ := do(t, s, http.MethodPost, "/send", `{"to":"5511999990000","body":"x"}`)
	if rec.Code != http.StatusNotFound && rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected /send to be unavailable, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, m, _ := newTestServer(t)
	m.Process(context.Background(), "oi", "u1", "")
	rec, _ := do(t, s, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "replypipe_strategy_requests_total") {
		t.Error("expected strategy counter in metrics output")
	}
}

func TestTwilioWebhookMounted(t *testing.T) {
	called := false
	hook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	s, _, _ := newTestServer(t, WithTwilioWebhook(hook))
	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader("From=1&Body=2"))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if !called || rec.Code != http.StatusOK {
		t.Errorf("expected webhook handler to run, code %d", rec.Code)
	}
}

func TestShutdownStopsConcurrentStart(t *testing.T) {
	s, _, _ := newTestServer(t, WithAddr("127.0.0.1:0"))

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start returned error after shutdown: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start kept serving after Shutdown")
	}
}

func TestShutdownBeforeStart(t *testing.T) {
	s, _, _ := newTestServer(t, WithAddr("127.0.0.1:0"))
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Errorf("Start after Shutdown should return nil, got %v", err)
	}
}
