package policy

import (
	"testing"

	"github.com/shopspring/decimal"

	"liqflow/internal/models"
)

func testPolicy(t *testing.T) *SymbolPolicy {
	t.Helper()
	tracked := decimal.NewFromInt(50000)
	def := decimal.NewFromInt(500000)
	colors := map[string]string{"BTC": "\U0001F7E0", "ETH": "\U0001F535", "SOL": "\U0001F7E3"}
	return New([]string{"BTC", "ETH", "SOL"}, colors, tracked, def)
}

func TestBaseAsset(t *testing.T) {
	cases := []struct {
		symbol string
		want   string
	}{
		{"BTCUSDT", "BTC"},
		{"ETHUSDC", "ETH"},
		{"adausdt", "ADA"},
		{"USDT", "USDT"},  // bare quote stays untouched
		{"BTCUSD", "BTCUSD"},
	}
	for _, tc := range cases {
		if got := BaseAsset(tc.symbol); got != tc.want {
			t.Errorf("BaseAsset(%q) = %q, want %q", tc.symbol, got, tc.want)
		}
	}
}

func TestForTrackedAndUntracked(t *testing.T) {
	p := testPolicy(t)

	btc := p.For("BTCUSDT")
	if !btc.Threshold.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("tracked threshold = %s, want 50000", btc.Threshold)
	}
	if btc.Color != "\U0001F7E0" {
		t.Errorf("unexpected BTC color: %q", btc.Color)
	}

	ada := p.For("ADAUSDT")
	if !ada.Threshold.Equal(decimal.NewFromInt(500000)) {
		t.Errorf("untracked threshold = %s, want 500000", ada.Threshold)
	}
	if ada.Color != "" {
		t.Errorf("untracked symbol should carry no color, got %q", ada.Color)
	}
}

func TestPassesInclusiveBoundary(t *testing.T) {
	p := testPolicy(t)

	event := func(symbol, notional string) models.LiquidationEvent {
		n, err := decimal.NewFromString(notional)
		if err != nil {
			t.Fatalf("bad notional %q: %v", notional, err)
		}
		return models.LiquidationEvent{Symbol: symbol, Notional: n}
	}

	cases := []struct {
		symbol   string
		notional string
		want     bool
	}{
		{"BTCUSDT", "49999.99", false},
		{"BTCUSDT", "50000", true}, // exactly at the threshold
		{"BTCUSDT", "50000.01", true},
		{"ADAUSDT", "499999.99", false},
		{"ADAUSDT", "500000", true},
	}
	for _, tc := range cases {
		if got := p.Passes(event(tc.symbol, tc.notional)); got != tc.want {
			t.Errorf("Passes(%s %s) = %v, want %v", tc.symbol, tc.notional, got, tc.want)
		}
	}
}

func TestTrackedAssetsSorted(t *testing.T) {
	p := testPolicy(t)
	got := p.TrackedAssets()
	want := []string{"BTC", "ETH", "SOL"}
	if len(got) != len(want) {
		t.Fatalf("TrackedAssets() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("TrackedAssets() = %v, want %v", got, want)
		}
	}
}
