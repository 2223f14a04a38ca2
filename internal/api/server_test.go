package api

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/quantedge/decision-engine/internal/config"
	"github.com/quantedge/decision-engine/internal/ensemble"
	"github.com/quantedge/decision-engine/internal/metrics"
	"github.com/quantedge/decision-engine/internal/orchestrator"
	"github.com/quantedge/decision-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.MetadataPath = t.TempDir() + "/position_metadata.json"
	predictor := ensemble.New(zap.NewNop(), ensemble.DefaultConfig())
	engine := orchestrator.New(zap.NewNop(), cfg, predictor, nil)
	return NewServer(zap.NewNop(), cfg.API, engine, nil, metrics.New())
}

func TestHandleHealthReturnsOK(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %+v, want status=ok", body)
	}
}

func TestHandleDecideRejectsInvalidBody(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("POST", "/v1/decide", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != 400 {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleDecideReturnsReplyAndAssignsTraceID(t *testing.T) {
	s := newTestServer(t)

	snap := types.Snapshot{
		Symbol:       "NOTREAL",
		SnapshotTime: time.Date(2024, 1, 8, 12, 0, 0, 0, time.UTC).Unix(),
		Account: types.Account{
			Balance:          decimal.NewFromInt(10000),
			Equity:           decimal.NewFromInt(10000),
			DailyStartBal:    decimal.NewFromInt(10000),
			PeakBalance:      decimal.NewFromInt(10000),
			MaxDailyLoss:     decimal.NewFromInt(500),
			MaxTotalDrawdown: decimal.NewFromInt(1000),
		},
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}

	req := httptest.NewRequest("POST", "/v1/decide", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	var reply types.Reply
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.Action != types.ActionHold || reply.Reason != "unknown symbol" {
		t.Fatalf("reply = %+v, want HOLD/unknown symbol", reply)
	}
	if reply.TraceID == "" {
		t.Fatal("expected a generated trace ID")
	}
}

func TestHandleDecideHonorsClientTraceID(t *testing.T) {
	s := newTestServer(t)

	snap := types.Snapshot{Symbol: "NOTREAL", SnapshotTime: time.Now().Unix()}
	payload, _ := json.Marshal(snap)

	req := httptest.NewRequest("POST", "/v1/decide", bytes.NewReader(payload))
	req.Header.Set("X-Trace-Id", "trace-123")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var reply types.Reply
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.TraceID != "trace-123" {
		t.Fatalf("TraceID = %q, want trace-123", reply.TraceID)
	}
}

func TestMetricsEndpointExposesDecisionEngineCollectors(t *testing.T) {
	s := newTestServer(t)

	snap := types.Snapshot{Symbol: "NOTREAL", SnapshotTime: time.Now().Unix()}
	payload, _ := json.Marshal(snap)
	decideReq := httptest.NewRequest("POST", "/v1/decide", bytes.NewReader(payload))
	s.router.ServeHTTP(httptest.NewRecorder(), decideReq)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("decision_engine_requests_total")) {
		t.Fatalf("expected decision_engine_requests_total in scrape output, got:\n%s", rec.Body.String())
	}
}
