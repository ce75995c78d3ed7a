package bybit

import (
	"context"
	"sync"
	"testing"
	"time"

	appconfig "liqflow/config"
	"liqflow/internal/channel/liq"
	"liqflow/internal/feed"
	"liqflow/internal/models"
	"liqflow/logger"
)

type fakeWriter struct {
	mu     sync.Mutex
	writes int
	err    error
}

func (w *fakeWriter) WriteJSON(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.writes++
	return nil
}

func (w *fakeWriter) SetWriteDeadline(time.Time) error { return nil }

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writes
}

func newTestConnection(t *testing.T) (*Connection, *liq.Channels) {
	t.Helper()
	ch := liq.NewChannels(models.ExchangeBybit, 4)
	cfg := appconfig.BybitSourceConfig{
		URL:          "wss://example.invalid/v5/public/linear",
		Symbols:      []string{"BTCUSDT"},
		PingInterval: 20 * time.Second,
	}
	return NewConnection(cfg, ch, logger.GetLogger()), ch
}

func TestKeepAliveStopsOnCancel(t *testing.T) {
	w := &fakeWriter{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		keepAlive(ctx, w, 10*time.Millisecond, logger.GetLogger().WithComponent("test"))
		close(done)
	}()

	time.Sleep(35 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("keepAlive did not stop after cancel")
	}

	if w.count() == 0 {
		t.Fatalf("expected heartbeats before cancel")
	}
	settled := w.count()
	time.Sleep(50 * time.Millisecond)
	if w.count() != settled {
		t.Fatalf("heartbeat fired after cancel: %d -> %d", settled, w.count())
	}
}

func TestHandleFrameSubscriptionRejected(t *testing.T) {
	c, _ := newTestConnection(t)

	err := c.handleFrame(context.Background(), []byte(`{"op":"subscribe","success":false,"ret_msg":"error:handler not found"}`))
	if err == nil {
		t.Fatalf("rejected subscription must be terminal")
	}
}

func TestHandleFrameSubscriptionAck(t *testing.T) {
	c, ch := newTestConnection(t)

	if err := c.handleFrame(context.Background(), []byte(`{"op":"subscribe","success":true,"ret_msg":""}`)); err != nil {
		t.Fatalf("successful ack returned error: %v", err)
	}
	if got := c.State(); got != feed.StateActive {
		t.Errorf("state after ack = %s, want active", got)
	}
	if stats := ch.GetStats(); stats.RawSent != 0 {
		t.Errorf("ack frame forwarded to channel: %+v", stats)
	}
}

func TestHandleFrameForwardsLiquidation(t *testing.T) {
	c, ch := newTestConnection(t)
	payload := []byte(`{"topic":"allLiquidation.BTCUSDT","ts":1700000000000,"data":[{"s":"BTCUSDT","S":"Buy","v":"0.5","p":"60000"}]}`)

	if err := c.handleFrame(context.Background(), payload); err != nil {
		t.Fatalf("handleFrame: %v", err)
	}

	select {
	case msg := <-ch.Raw:
		if msg.Exchange != models.ExchangeBybit {
			t.Errorf("unexpected exchange: %s", msg.Exchange)
		}
	default:
		t.Fatalf("liquidation frame not forwarded")
	}
}

func TestHandleFrameDiscardsPongAndMalformed(t *testing.T) {
	c, ch := newTestConnection(t)

	if err := c.handleFrame(context.Background(), []byte(`{"op":"pong"}`)); err != nil {
		t.Fatalf("pong: %v", err)
	}
	if err := c.handleFrame(context.Background(), []byte(`{"topic":`)); err != nil {
		t.Fatalf("malformed frames must not be terminal: %v", err)
	}
	if stats := ch.GetStats(); stats.RawSent != 0 {
		t.Errorf("control frames forwarded: %+v", stats)
	}
}
