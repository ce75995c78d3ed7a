package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	appconfig "liqflow/config"
	"liqflow/internal/channel/liq"
	"liqflow/internal/feed"
	"liqflow/internal/metrics"
	"liqflow/internal/models"
	"liqflow/logger"
)

const (
	writeWait   = time.Second
	topicPrefix = "allLiquidation."
)

type subscribeRequest struct {
	Op    string   `json:"op"`
	Args  []string `json:"args"`
	ReqID string   `json:"req_id"`
}

type pingRequest struct {
	Op string `json:"op"`
}

// frameProbe covers the three frame shapes the v5 public stream sends:
// operation acks (op + success), pongs (op only) and topic payloads.
type frameProbe struct {
	Op      string `json:"op"`
	Success *bool  `json:"success"`
	RetMsg  string `json:"ret_msg"`
	Topic   string `json:"topic"`
}

// Connection streams allLiquidation topics from the Bybit v5 public linear
// websocket. Unlike Binance the stream needs an explicit subscribe handshake
// and an application-level {"op":"ping"} heartbeat.
type Connection struct {
	cfg      appconfig.BybitSourceConfig
	channels *liq.Channels
	state    atomic.Int32
	log      *logger.Entry
}

func NewConnection(cfg appconfig.BybitSourceConfig, ch *liq.Channels, log *logger.Log) *Connection {
	return &Connection{
		cfg:      cfg,
		channels: ch,
		log: log.WithComponent("bybit_liq_feed").WithFields(logger.Fields{
			"generation": uuid.NewString()[:8],
		}),
	}
}

func (c *Connection) Exchange() models.Exchange {
	return models.ExchangeBybit
}

func (c *Connection) State() feed.State {
	return feed.State(c.state.Load())
}

func (c *Connection) setState(s feed.State) {
	c.state.Store(int32(s))
}

// Run performs one connect/subscribe/read cycle and returns when the stream
// ends. The heartbeat goroutine is scoped to this attempt: its context is
// cancelled before Run returns, so a dead connection can never keep a stale
// ping timer alive into the next attempt.
func (c *Connection) Run(ctx context.Context) error {
	defer c.setState(feed.StateDisconnected)

	c.setState(feed.StateConnecting)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial bybit liquidation stream: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.setState(feed.StateClosing)
			conn.Close()
		case <-done:
		}
	}()

	c.setState(feed.StateSubscribing)
	topics := make([]string, 0, len(c.cfg.Symbols))
	for _, symbol := range c.cfg.Symbols {
		topics = append(topics, topicPrefix+strings.ToUpper(symbol))
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(subscribeRequest{
		Op:    "subscribe",
		Args:  topics,
		ReqID: fmt.Sprintf("%d", time.Now().UnixNano()),
	}); err != nil {
		return fmt.Errorf("subscribe to bybit topics: %w", err)
	}

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go keepAlive(pingCtx, conn, c.cfg.PingInterval, c.log)

	c.log.WithFields(logger.Fields{
		"url":    c.cfg.URL,
		"topics": len(topics),
	}).Info("bybit liquidation stream connected")

	conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read bybit frame: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		if err := c.handleFrame(ctx, payload); err != nil {
			return err
		}
	}
}

// handleFrame routes one frame. A rejected subscription is the only terminal
// outcome; everything else is forwarded or discarded in place.
func (c *Connection) handleFrame(ctx context.Context, payload []byte) error {
	var probe frameProbe
	if err := json.Unmarshal(payload, &probe); err != nil {
		c.log.WithError(err).Warn("discarding malformed bybit frame")
		metrics.EmitDropMetric(logger.GetLogger(), metrics.DropMetricMalformedFrame, string(models.ExchangeBybit), "", "feed")
		return nil
	}

	switch {
	case probe.Op == "subscribe":
		if probe.Success != nil && !*probe.Success {
			return fmt.Errorf("bybit subscription rejected: %s", probe.RetMsg)
		}
		c.setState(feed.StateActive)
		c.log.Info("bybit subscription acknowledged")
		return nil
	case probe.Op == "pong" || probe.Op == "ping":
		return nil
	case strings.HasPrefix(probe.Topic, topicPrefix):
		msg := models.RawLiquidationMessage{
			Exchange:   models.ExchangeBybit,
			Payload:    payload,
			ReceivedAt: time.Now().UTC(),
		}
		if !c.channels.SendRaw(ctx, msg) && ctx.Err() == nil {
			symbol := strings.TrimPrefix(probe.Topic, topicPrefix)
			c.log.WithField("symbol", symbol).Warn("raw channel full, dropping liquidation frame")
			metrics.EmitDropMetric(logger.GetLogger(), metrics.DropMetricLiquidationRaw, string(models.ExchangeBybit), symbol, "raw")
		}
		return nil
	default:
		c.log.WithFields(logger.Fields{"op": probe.Op, "topic": probe.Topic}).Debug("ignoring unexpected bybit frame")
		return nil
	}
}

// jsonWriter is the slice of *websocket.Conn the heartbeat needs.
type jsonWriter interface {
	WriteJSON(v interface{}) error
	SetWriteDeadline(t time.Time) error
}

// keepAlive writes {"op":"ping"} every interval until its context ends or a
// write fails. The read loop notices a dead socket on its own; the heartbeat
// just stops.
func keepAlive(ctx context.Context, w jsonWriter, interval time.Duration, log *logger.Entry) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.WriteJSON(pingRequest{Op: "ping"}); err != nil {
				log.WithError(err).Warn("failed to send bybit heartbeat")
				return
			}
		}
	}
}
