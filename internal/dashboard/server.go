package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	appconfig "liqflow/config"
	liqchannel "liqflow/internal/channel/liq"
	"liqflow/internal/metrics"
	"liqflow/internal/supervisor"
	"liqflow/logger"
)

// StatusSource supplies the live pipeline state rendered by /api/status.
type StatusSource struct {
	AppName  string
	Version  string
	Feeds    func() map[string]supervisor.Status
	Channels []*liqchannel.Channels
}

// Server hosts the JSON status endpoints. It captures recent metrics through
// the metric handler registry and recent logs through a logrus hook.
type Server struct {
	cfg           appconfig.DashboardConfig
	log           *logger.Log
	source        StatusSource
	metricStore   *metricStore
	logStore      *logStore
	metricHandler metrics.MetricHandlerID
	httpServer    *http.Server
	startedAt     time.Time
}

// NewServer constructs the status server when the dashboard is enabled; a
// disabled dashboard yields a nil server whose Run is a no-op.
func NewServer(cfg appconfig.DashboardConfig, source StatusSource, log *logger.Log) *Server {
	if !cfg.Enabled {
		return nil
	}
	if cfg.Address == "" {
		cfg.Address = ":8080"
	}

	ms := newMetricStore(cfg.MetricsHistory)
	ls := newLogStore(cfg.LogHistory)
	log.AddHook(ls)

	return &Server{
		cfg:           cfg,
		log:           log,
		source:        source,
		metricStore:   ms,
		logStore:      ls,
		metricHandler: metrics.RegisterMetricHandler(ms.handle),
		startedAt:     time.Now().UTC(),
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}
	defer s.cleanup()

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/metrics", s.handleMetrics)
	mux.HandleFunc("/api/logs", s.handleLogs)

	s.httpServer = &http.Server{
		Addr:    s.cfg.Address,
		Handler: mux,
	}

	s.log.WithComponent("dashboard").WithFields(logger.Fields{
		"address": s.cfg.Address,
	}).Info("status server listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	if s.logStore != nil {
		s.logStore.close()
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(`<!doctype html><title>` + s.source.AppName + `</title>` +
		`<h1>` + s.source.AppName + `</h1>` +
		`<ul><li><a href="/api/status">status</a></li>` +
		`<li><a href="/api/metrics">metrics</a></li>` +
		`<li><a href="/api/logs">logs</a></li></ul>`))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	warns, errs := logger.Counts()

	channels := make(map[string]liqchannel.ChannelStats, len(s.source.Channels))
	for _, ch := range s.source.Channels {
		channels[string(ch.Exchange())] = ch.GetStats()
	}

	payload := map[string]interface{}{
		"app":            s.source.AppName,
		"version":        s.source.Version,
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"channels":       channels,
		"log_warnings":   warns,
		"log_errors":     errs,
	}
	if s.source.Feeds != nil {
		payload["feeds"] = s.source.Feeds()
	}
	writeJSON(w, payload)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snapshot := s.metricStore.snapshot()
	items := make([]map[string]interface{}, 0, len(snapshot))
	for _, m := range snapshot {
		items = append(items, map[string]interface{}{
			"timestamp": m.Timestamp.Format(time.RFC3339Nano),
			"component": m.Component,
			"name":      m.Name,
			"value":     m.Value,
			"type":      m.Type,
			"fields":    m.Fields,
		})
	}
	writeJSON(w, map[string]interface{}{"metrics": items})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{"logs": s.logStore.snapshot()})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
