package binance

import (
	"context"
	"encoding/json"
	"fmt"
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

const writeWait = time.Second

// Connection streams the Binance futures all-market force order feed. The
// stream endpoint needs no subscription handshake; connecting to the
// !forceOrder@arr path is the subscription.
type Connection struct {
	cfg      appconfig.BinanceSourceConfig
	channels *liq.Channels
	state    atomic.Int32
	log      *logger.Entry
}

// NewConnection prepares a single connection attempt. Each attempt carries
// its own generation id so log lines from overlapping attempts never mix.
func NewConnection(cfg appconfig.BinanceSourceConfig, ch *liq.Channels, log *logger.Log) *Connection {
	return &Connection{
		cfg:      cfg,
		channels: ch,
		log: log.WithComponent("binance_liq_feed").WithFields(logger.Fields{
			"generation": uuid.NewString()[:8],
		}),
	}
}

func (c *Connection) Exchange() models.Exchange {
	return models.ExchangeBinance
}

func (c *Connection) State() feed.State {
	return feed.State(c.state.Load())
}

func (c *Connection) setState(s feed.State) {
	c.state.Store(int32(s))
}

// Run performs one connect/read cycle and returns when the stream ends.
func (c *Connection) Run(ctx context.Context) error {
	defer c.setState(feed.StateDisconnected)

	c.setState(feed.StateConnecting)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial binance liquidation stream: %w", err)
	}
	defer conn.Close()

	// Unblock the read loop when the context ends.
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

	conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	c.setState(feed.StateActive)
	c.log.WithField("url", c.cfg.URL).Info("binance liquidation stream connected")

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read binance frame: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		c.handleFrame(ctx, payload)
	}
}

// binanceProbe peeks at the two routing fields without decoding the full
// event; the processor owns the real decode.
type binanceProbe struct {
	Event string `json:"e"`
	Order struct {
		Symbol string `json:"s"`
	} `json:"o"`
}

func (c *Connection) handleFrame(ctx context.Context, payload []byte) {
	var probe binanceProbe
	if err := json.Unmarshal(payload, &probe); err != nil {
		c.log.WithError(err).Warn("discarding malformed binance frame")
		metrics.EmitDropMetric(logger.GetLogger(), metrics.DropMetricMalformedFrame, string(models.ExchangeBinance), "", "feed")
		return
	}
	if probe.Event != "forceOrder" {
		c.log.WithField("event", probe.Event).Debug("ignoring non-liquidation frame")
		return
	}

	msg := models.RawLiquidationMessage{
		Exchange:   models.ExchangeBinance,
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	}
	if !c.channels.SendRaw(ctx, msg) && ctx.Err() == nil {
		c.log.WithField("symbol", probe.Order.Symbol).Warn("raw channel full, dropping liquidation frame")
		metrics.EmitDropMetric(logger.GetLogger(), metrics.DropMetricLiquidationRaw, string(models.ExchangeBinance), probe.Order.Symbol, "raw")
	}
}
