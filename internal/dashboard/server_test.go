package dashboard

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	appconfig "liqflow/config"
	liqchannel "liqflow/internal/channel/liq"
	"liqflow/internal/models"
	"liqflow/internal/supervisor"
	"liqflow/logger"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	ch := liqchannel.NewChannels(models.ExchangeBinance, 2)
	ch.IncrementRawSent()

	source := StatusSource{
		AppName: "Liqflow",
		Version: "test",
		Feeds: func() map[string]supervisor.Status {
			return map[string]supervisor.Status{
				"binance": {State: "active", Restarts: 1},
			}
		},
		Channels: []*liqchannel.Channels{ch},
	}
	s := NewServer(appconfig.DashboardConfig{Enabled: true, Address: ":0"}, source, logger.GetLogger())
	if s == nil {
		t.Fatalf("enabled dashboard returned nil server")
	}
	t.Cleanup(s.cleanup)
	return s
}

func TestHandleStatus(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.handleStatus(rec, httptest.NewRequest("GET", "/api/status", nil))

	if rec.Code != 200 {
		t.Fatalf("status code = %d", rec.Code)
	}
	var payload struct {
		App   string `json:"app"`
		Feeds map[string]struct {
			State    string `json:"state"`
			Restarts int64  `json:"restarts"`
		} `json:"feeds"`
		Channels map[string]struct {
			RawSent int64 `json:"RawSent"`
		} `json:"channels"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode status payload: %v", err)
	}
	if payload.App != "Liqflow" {
		t.Errorf("unexpected app name: %q", payload.App)
	}
	if payload.Feeds["binance"].State != "active" {
		t.Errorf("feed state missing: %+v", payload.Feeds)
	}
	if payload.Channels["binance"].RawSent != 1 {
		t.Errorf("channel stats missing: %+v", payload.Channels)
	}
}

func TestHandleMetricsEmpty(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.handleMetrics(rec, httptest.NewRequest("GET", "/api/metrics", nil))

	var payload struct {
		Metrics []interface{} `json:"metrics"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode metrics payload: %v", err)
	}
	if payload.Metrics == nil {
		t.Errorf("metrics must serialise as an empty array, got null")
	}
}
