package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	liqchannel "liqflow/internal/channel/liq"
	"liqflow/internal/format"
	"liqflow/internal/metrics"
	"liqflow/internal/models"
	"liqflow/internal/notifier"
	"liqflow/internal/policy"
	"liqflow/logger"
)

// Liquidation consumes raw frames from one exchange channel, normalizes
// them, applies the threshold policy and pushes rendered alerts to the sink.
// Each exchange gets its own instance; a single worker per instance keeps
// alerts in arrival order within a feed.
type Liquidation struct {
	channels *liqchannel.Channels
	policy   *policy.SymbolPolicy
	sink     notifier.Sink
	wg       sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
}

func NewLiquidation(ch *liqchannel.Channels, pol *policy.SymbolPolicy, sink notifier.Sink) *Liquidation {
	return &Liquidation{
		channels: ch,
		policy:   pol,
		sink:     sink,
		log:      logger.GetLogger(),
	}
}

// Start launches the worker. It returns immediately; the worker stops when
// ctx ends or the raw channel closes.
func (p *Liquidation) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("liquidation processor already running")
	}
	p.running = true
	p.mu.Unlock()

	log := p.log.WithComponent("liq_processor").WithField("exchange", string(p.channels.Exchange()))
	log.Info("starting liquidation processor")

	p.wg.Add(1)
	go p.worker(ctx, log)
	return nil
}

// Stop waits for the worker to drain.
func (p *Liquidation) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()
	p.log.WithComponent("liq_processor").WithField("exchange", string(p.channels.Exchange())).Info("liquidation processor stopped")
}

func (p *Liquidation) worker(ctx context.Context, log *logger.Entry) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-p.channels.Raw:
			if !ok {
				return
			}
			p.handleMessage(ctx, raw, log)
		}
	}
}

// handleMessage processes one raw frame end to end. Every failure is
// contained to this frame; the worker loop never sees an error.
func (p *Liquidation) handleMessage(ctx context.Context, raw models.RawLiquidationMessage, log *logger.Entry) {
	events, err := Normalize(raw)
	if err != nil {
		log.WithError(err).Warn("discarding malformed liquidation payload")
		metrics.EmitDropMetric(p.log, metrics.DropMetricMalformedFrame, string(raw.Exchange), "", "normalize")
		return
	}

	for _, ev := range events {
		if !p.policy.Passes(ev) {
			log.WithFields(logger.Fields{
				"symbol":   ev.Symbol,
				"notional": ev.Notional.String(),
			}).Debug("liquidation below threshold")
			continue
		}
		p.deliver(ctx, ev, format.Alert(ev, p.policy), log)
	}
}

// deliver sends one alert and folds the outcome into logs and metrics. A
// rejected payload is a rendering defect and is logged as an error; anything
// transient is dropped with a warning. Alerts are never retried here.
func (p *Liquidation) deliver(ctx context.Context, ev models.LiquidationEvent, text string, log *logger.Entry) {
	err := p.sink.Send(ctx, text)
	fields := logger.Fields{
		"symbol":   ev.Symbol,
		"notional": ev.Notional.String(),
	}
	switch {
	case err == nil:
		log.WithFields(fields).Info("liquidation alert delivered")
	case errors.Is(err, notifier.ErrBadPayload):
		log.WithError(err).WithFields(fields).Error("alert payload rejected")
	default:
		log.WithError(err).WithFields(fields).Warn("alert delivery failed, dropping")
		metrics.EmitDropMetric(p.log, metrics.DropMetricAlert, string(ev.Exchange), ev.Symbol, "deliver")
	}
}
