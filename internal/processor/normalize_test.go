package processor

import (
	"testing"
	"time"

	"liqflow/internal/models"
)

func TestNormalizeBinanceExactDecimal(t *testing.T) {
	raw := models.RawLiquidationMessage{
		Exchange:   models.ExchangeBinance,
		Payload:    []byte(`{"e":"forceOrder","E":1700000000000,"o":{"s":"btcusdt","S":"SELL","q":"0.001","p":"50000000.00","T":1700000000000}}`),
		ReceivedAt: time.Now().UTC(),
	}

	events, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.Symbol != "BTCUSDT" {
		t.Errorf("symbol not uppercased: %q", ev.Symbol)
	}
	if ev.Side != models.SideSell {
		t.Errorf("unexpected side: %s", ev.Side)
	}
	// 0.001 * 50,000,000 must be exactly 50,000 with no float drift
	if ev.Notional.String() != "50000" {
		t.Errorf("notional = %s, want exactly 50000", ev.Notional)
	}
}

func TestNormalizeBybitSkipsBadEntries(t *testing.T) {
	raw := models.RawLiquidationMessage{
		Exchange: models.ExchangeBybit,
		Payload: []byte(`{"topic":"allLiquidation.BTCUSDT","ts":1700000000000,"data":[
			{"s":"BTCUSDT","S":"Hold","v":"1","p":"60000"},
			{"s":"BTCUSDT","S":"Buy","v":"0.5","p":"60000"}
		]}`),
		ReceivedAt: time.Now().UTC(),
	}

	events, err := Normalize(raw)
	if err != nil {
		t.Fatalf("one bad entry must not fail the frame: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 usable event, got %d", len(events))
	}
	if events[0].Side != models.SideBuy {
		t.Errorf("unexpected side: %s", events[0].Side)
	}
}

func TestNormalizeBybitAllBadEntries(t *testing.T) {
	raw := models.RawLiquidationMessage{
		Exchange:   models.ExchangeBybit,
		Payload:    []byte(`{"topic":"allLiquidation.BTCUSDT","ts":1,"data":[{"s":"BTCUSDT","S":"Buy","v":"-1","p":"60000"}]}`),
		ReceivedAt: time.Now().UTC(),
	}

	if _, err := Normalize(raw); err == nil {
		t.Fatalf("expected error when no entry is usable")
	}
}

func TestNormalizeUnknownExchange(t *testing.T) {
	raw := models.RawLiquidationMessage{Exchange: "kraken", Payload: []byte(`{}`)}
	if _, err := Normalize(raw); err == nil {
		t.Fatalf("expected error for unknown exchange")
	}
}
