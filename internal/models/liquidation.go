package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Exchange identifies the venue a liquidation was observed on.
type Exchange string

const (
	ExchangeBinance Exchange = "binance"
	ExchangeBybit   Exchange = "bybit"
)

// Side is the order side of the forced order as reported by the exchange.
// A liquidated long position closes with a SELL order and vice versa.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide folds exchange-specific casing ("BUY", "Buy") into a Side.
func ParseSide(raw string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "BUY":
		return SideBuy, nil
	case "SELL":
		return SideSell, nil
	default:
		return "", fmt.Errorf("unknown order side %q", raw)
	}
}

// RawLiquidationMessage carries one raw frame captured from an exchange
// stream, keeping the untouched JSON payload together with routing metadata.
type RawLiquidationMessage struct {
	Exchange   Exchange
	Payload    []byte
	ReceivedAt time.Time
}

// LiquidationEvent is the canonical liquidation shape shared by both feeds.
// It is immutable once constructed; Notional is derived exactly once.
type LiquidationEvent struct {
	Exchange   Exchange
	Symbol     string
	Side       Side
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	Notional   decimal.Decimal
	ObservedAt time.Time
}

// NewLiquidationEvent builds a canonical event from wire text. Quantity and
// price stay in decimal form end to end so threshold comparisons at exact
// boundary values never suffer binary floating-point drift.
func NewLiquidationEvent(exchange Exchange, symbol string, side Side, quantity, price string) (LiquidationEvent, error) {
	qty, err := decimal.NewFromString(strings.TrimSpace(quantity))
	if err != nil {
		return LiquidationEvent{}, fmt.Errorf("parse quantity %q: %w", quantity, err)
	}
	px, err := decimal.NewFromString(strings.TrimSpace(price))
	if err != nil {
		return LiquidationEvent{}, fmt.Errorf("parse price %q: %w", price, err)
	}
	if !qty.IsPositive() {
		return LiquidationEvent{}, fmt.Errorf("quantity must be positive, got %s", qty)
	}
	if !px.IsPositive() {
		return LiquidationEvent{}, fmt.Errorf("price must be positive, got %s", px)
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return LiquidationEvent{}, fmt.Errorf("symbol is empty")
	}

	return LiquidationEvent{
		Exchange:   exchange,
		Symbol:     symbol,
		Side:       side,
		Quantity:   qty,
		Price:      px,
		Notional:   qty.Mul(px),
		ObservedAt: time.Now().UTC(),
	}, nil
}
