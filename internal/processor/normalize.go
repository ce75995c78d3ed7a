package processor

import (
	"encoding/json"
	"fmt"

	futures "github.com/adshao/go-binance/v2/futures"

	"liqflow/internal/models"
)

// bybitLiquidationFrame mirrors the v5 allLiquidation topic payload. One
// frame can carry several fills.
type bybitLiquidationFrame struct {
	Topic string `json:"topic"`
	Ts    int64  `json:"ts"`
	Data  []struct {
		Symbol string `json:"s"`
		Side   string `json:"S"`
		Size   string `json:"v"`
		Price  string `json:"p"`
	} `json:"data"`
}

// Normalize decodes one raw frame into canonical events. Amounts stay in
// string form until the decimal constructor parses them; no float ever
// touches the values.
func Normalize(raw models.RawLiquidationMessage) ([]models.LiquidationEvent, error) {
	switch raw.Exchange {
	case models.ExchangeBinance:
		return normalizeBinance(raw.Payload)
	case models.ExchangeBybit:
		return normalizeBybit(raw.Payload)
	default:
		return nil, fmt.Errorf("unknown exchange %q", raw.Exchange)
	}
}

func normalizeBinance(payload []byte) ([]models.LiquidationEvent, error) {
	var event futures.WsLiquidationOrderEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode binance liquidation: %w", err)
	}
	order := event.LiquidationOrder

	side, err := models.ParseSide(string(order.Side))
	if err != nil {
		return nil, fmt.Errorf("binance liquidation: %w", err)
	}
	ev, err := models.NewLiquidationEvent(models.ExchangeBinance, order.Symbol, side, order.OrigQuantity, order.Price)
	if err != nil {
		return nil, fmt.Errorf("binance liquidation: %w", err)
	}
	return []models.LiquidationEvent{ev}, nil
}

// normalizeBybit skips entries that fail to parse so one bad fill never
// suppresses its siblings. The frame only errors when nothing was usable.
func normalizeBybit(payload []byte) ([]models.LiquidationEvent, error) {
	var frame bybitLiquidationFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return nil, fmt.Errorf("decode bybit liquidation: %w", err)
	}
	if len(frame.Data) == 0 {
		return nil, fmt.Errorf("bybit liquidation frame %q has no entries", frame.Topic)
	}

	events := make([]models.LiquidationEvent, 0, len(frame.Data))
	var firstErr error
	for _, entry := range frame.Data {
		side, err := models.ParseSide(entry.Side)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("bybit liquidation: %w", err)
			}
			continue
		}
		ev, err := models.NewLiquidationEvent(models.ExchangeBybit, entry.Symbol, side, entry.Size, entry.Price)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("bybit liquidation: %w", err)
			}
			continue
		}
		events = append(events, ev)
	}
	if len(events) == 0 {
		return nil, firstErr
	}
	return events, nil
}
