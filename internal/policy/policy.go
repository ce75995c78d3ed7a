package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"liqflow/config"
	"liqflow/internal/models"
)

// quoteAssets are the quote suffixes stripped from a ticker to obtain the
// base asset. Order matters only in that longer suffixes would need to come
// first; both entries here are four characters.
var quoteAssets = []string{"USDT", "USDC"}

// AssetPolicy is the alert policy applied to a single base asset.
type AssetPolicy struct {
	Threshold decimal.Decimal
	Color     string
}

// SymbolPolicy maps base assets to alert policies. It is built once at
// startup and read-only afterwards, so it is safe to share across both feed
// pipelines without locking.
type SymbolPolicy struct {
	tracked          map[string]AssetPolicy
	defaultThreshold decimal.Decimal
}

// New builds a policy table. Tracked assets share one lowered threshold and
// may carry a color glyph; everything else falls back to defaultThreshold.
func New(trackedAssets []string, colors map[string]string, trackedThreshold, defaultThreshold decimal.Decimal) *SymbolPolicy {
	tracked := make(map[string]AssetPolicy, len(trackedAssets))
	for _, asset := range trackedAssets {
		asset = strings.ToUpper(strings.TrimSpace(asset))
		if asset == "" {
			continue
		}
		tracked[asset] = AssetPolicy{
			Threshold: trackedThreshold,
			Color:     colors[asset],
		}
	}
	return &SymbolPolicy{
		tracked:          tracked,
		defaultThreshold: defaultThreshold,
	}
}

// FromConfig builds the policy table from the filter configuration.
func FromConfig(cfg config.FilterConfig) (*SymbolPolicy, error) {
	trackedThreshold, err := decimal.NewFromString(cfg.TrackedThreshold)
	if err != nil {
		return nil, fmt.Errorf("parse tracked threshold %q: %w", cfg.TrackedThreshold, err)
	}
	defaultThreshold, err := decimal.NewFromString(cfg.DefaultThreshold)
	if err != nil {
		return nil, fmt.Errorf("parse default threshold %q: %w", cfg.DefaultThreshold, err)
	}
	colors := make(map[string]string, len(cfg.Colors))
	for asset, glyph := range cfg.Colors {
		colors[strings.ToUpper(strings.TrimSpace(asset))] = glyph
	}
	return New(cfg.TrackedAssets, colors, trackedThreshold, defaultThreshold), nil
}

// BaseAsset strips the quote-asset suffix from an exchange ticker, e.g.
// "BTCUSDT" -> "BTC". Unknown quotes leave the symbol untouched.
func BaseAsset(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	for _, quote := range quoteAssets {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return strings.TrimSuffix(s, quote)
		}
	}
	return s
}

// For returns the policy applied to a symbol. Untracked symbols get the
// default threshold and no color glyph.
func (p *SymbolPolicy) For(symbol string) AssetPolicy {
	if policy, ok := p.tracked[BaseAsset(symbol)]; ok {
		return policy
	}
	return AssetPolicy{Threshold: p.defaultThreshold}
}

// Passes reports whether an event meets its symbol's threshold. The boundary
// is inclusive: a notional exactly at the threshold passes.
func (p *SymbolPolicy) Passes(ev models.LiquidationEvent) bool {
	return ev.Notional.GreaterThanOrEqual(p.For(ev.Symbol).Threshold)
}

// TrackedAssets lists the tracked base assets in sorted order.
func (p *SymbolPolicy) TrackedAssets() []string {
	assets := make([]string, 0, len(p.tracked))
	for asset := range p.tracked {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets
}

// TrackedThreshold returns the lowered threshold applied to tracked assets.
// The zero decimal is returned when nothing is tracked.
func (p *SymbolPolicy) TrackedThreshold() decimal.Decimal {
	for _, policy := range p.tracked {
		return policy.Threshold
	}
	return decimal.Decimal{}
}

// DefaultThreshold returns the threshold applied to untracked assets.
func (p *SymbolPolicy) DefaultThreshold() decimal.Decimal {
	return p.defaultThreshold
}
