package processor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	liqchannel "liqflow/internal/channel/liq"
	"liqflow/internal/models"
	"liqflow/internal/notifier"
	"liqflow/internal/policy"
	"liqflow/logger"
)

type fakeSink struct {
	mu    sync.Mutex
	sent  []string
	fail  error
	calls int
}

func (s *fakeSink) Send(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail != nil {
		return s.fail
	}
	s.sent = append(s.sent, text)
	return nil
}

func (s *fakeSink) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func testPolicy() *policy.SymbolPolicy {
	return policy.New(
		[]string{"BTC", "ETH", "SOL"},
		map[string]string{"BTC": "\U0001F7E0", "ETH": "\U0001F535", "SOL": "\U0001F7E3"},
		decimal.NewFromInt(50000),
		decimal.NewFromInt(500000),
	)
}

func newTestProcessor(exchange models.Exchange, sink notifier.Sink) (*Liquidation, *logger.Entry) {
	ch := liqchannel.NewChannels(exchange, 8)
	p := NewLiquidation(ch, testPolicy(), sink)
	return p, logger.GetLogger().WithComponent("test")
}

func rawBinance(payload string) models.RawLiquidationMessage {
	return models.RawLiquidationMessage{
		Exchange:   models.ExchangeBinance,
		Payload:    []byte(payload),
		ReceivedAt: time.Now().UTC(),
	}
}

func rawBybit(payload string) models.RawLiquidationMessage {
	return models.RawLiquidationMessage{
		Exchange:   models.ExchangeBybit,
		Payload:    []byte(payload),
		ReceivedAt: time.Now().UTC(),
	}
}

func TestBelowThresholdNotDelivered(t *testing.T) {
	sink := &fakeSink{}
	p, log := newTestProcessor(models.ExchangeBinance, sink)

	// 0.002 * 60000 = $120, well under the tracked threshold
	p.handleMessage(context.Background(), rawBinance(
		`{"e":"forceOrder","E":1700000000000,"o":{"s":"BTCUSDT","S":"SELL","q":"0.002","p":"60000.00","T":1700000000000}}`), log)

	if sink.calls != 0 {
		t.Fatalf("expected no delivery, sink called %d times", sink.calls)
	}
}

func TestTrackedLiquidationDelivered(t *testing.T) {
	sink := &fakeSink{}
	p, log := newTestProcessor(models.ExchangeBinance, sink)

	// 1.0 * 60000 = $60,000 >= tracked threshold
	p.handleMessage(context.Background(), rawBinance(
		`{"e":"forceOrder","E":1700000000000,"o":{"s":"BTCUSDT","S":"SELL","q":"1.0","p":"60000.00","T":1700000000000}}`), log)

	msgs := sink.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(msgs))
	}
	msg := msgs[0]
	if !strings.Contains(msg, "LONG") {
		t.Errorf("SELL order must report a LONG liquidation: %q", msg)
	}
	if !strings.HasPrefix(msg, "\U0001F480\n") || strings.HasPrefix(msg, "\U0001F480\U0001F480") {
		t.Errorf("expected exactly one skull: %q", msg)
	}
	if !strings.Contains(msg, "\U0001F7E0$BTC") {
		t.Errorf("tracked asset line missing color glyph: %q", msg)
	}
}

func TestUntrackedBybitLiquidation(t *testing.T) {
	sink := &fakeSink{}
	p, log := newTestProcessor(models.ExchangeBybit, sink)

	// 1,000,000 * 0.6 = $600,000 >= default threshold, 6 skulls
	p.handleMessage(context.Background(), rawBybit(
		`{"topic":"allLiquidation.ADAUSDT","ts":1700000000000,"data":[{"s":"ADAUSDT","S":"Buy","v":"1000000","p":"0.6"}]}`), log)

	msgs := sink.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(msgs))
	}
	msg := msgs[0]
	if !strings.Contains(msg, "SHORT $ADAUSDT") {
		t.Errorf("Buy order must report a SHORT liquidation without color: %q", msg)
	}
	if !strings.HasPrefix(msg, strings.Repeat("\U0001F480", 6)+"\n") {
		t.Errorf("expected six skulls: %q", msg)
	}
	if !strings.Contains(msg, "Bybit") {
		t.Errorf("missing exchange tag: %q", msg)
	}
}

func TestMalformedFrameDoesNotPoisonPipeline(t *testing.T) {
	sink := &fakeSink{}
	p, log := newTestProcessor(models.ExchangeBinance, sink)

	p.handleMessage(context.Background(), rawBinance(`{"e":"forceOrder","o":{`), log)
	p.handleMessage(context.Background(), rawBinance(
		`{"e":"forceOrder","E":1700000000000,"o":{"s":"ETHUSDT","S":"BUY","q":"20","p":"3000.00","T":1700000000000}}`), log)

	msgs := sink.messages()
	if len(msgs) != 1 {
		t.Fatalf("good frame after a bad one must still deliver, got %d", len(msgs))
	}
	if !strings.Contains(msgs[0], "SHORT") || !strings.Contains(msgs[0], "$ETH") {
		t.Errorf("unexpected message: %q", msgs[0])
	}
}

func TestSinkFailureIsContained(t *testing.T) {
	sink := &fakeSink{fail: notifier.ErrBadPayload}
	p, log := newTestProcessor(models.ExchangeBinance, sink)

	p.handleMessage(context.Background(), rawBinance(
		`{"e":"forceOrder","E":1700000000000,"o":{"s":"BTCUSDT","S":"SELL","q":"1.0","p":"60000.00","T":1700000000000}}`), log)

	if sink.calls != 1 {
		t.Fatalf("defective payloads must never be retried, sink called %d times", sink.calls)
	}
}

func TestWorkerLifecycle(t *testing.T) {
	sink := &fakeSink{}
	ch := liqchannel.NewChannels(models.ExchangeBybit, 8)
	p := NewLiquidation(ch, testPolicy(), sink)

	ctx, cancel := context.WithCancel(context.Background())
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Start(ctx); err == nil {
		t.Fatalf("second Start must fail")
	}

	ch.SendRaw(ctx, rawBybit(
		`{"topic":"allLiquidation.SOLUSDT","ts":1700000000000,"data":[{"s":"SOLUSDT","S":"Sell","v":"500","p":"150"}]}`))

	deadline := time.After(2 * time.Second)
	for len(sink.messages()) == 0 {
		select {
		case <-deadline:
			t.Fatalf("worker never delivered")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	p.Stop()
}
