package liq

import (
	"context"
	"sync"

	"liqflow/internal/models"
	"liqflow/logger"
)

type ChannelStats struct {
	RawSent    int64
	RawDropped int64
}

// Channels owns the raw frame buffer for exactly one exchange feed. Each feed
// gets its own instance so neither pipeline can ever queue behind the other.
type Channels struct {
	Raw chan models.RawLiquidationMessage

	exchange   models.Exchange
	stats      ChannelStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(exchange models.Exchange, rawBufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Raw:      make(chan models.RawLiquidationMessage, rawBufferSize),
		exchange: exchange,
		log:      log,
	}

	log.WithComponent("liq_channels").WithFields(logger.Fields{
		"exchange":        string(exchange),
		"raw_buffer_size": rawBufferSize,
	}).Info("liquidation channels initialized")

	return c
}

func (c *Channels) Exchange() models.Exchange {
	return c.exchange
}

func (c *Channels) Close() {
	close(c.Raw)
	c.log.WithComponent("liq_channels").WithFields(logger.Fields{
		"exchange": string(c.exchange),
	}).Info("liquidation channels closed")
}

func (c *Channels) IncrementRawSent() {
	c.statsMutex.Lock()
	c.stats.RawSent++
	c.statsMutex.Unlock()
}

func (c *Channels) IncrementRawDropped() {
	c.statsMutex.Lock()
	c.stats.RawDropped++
	c.statsMutex.Unlock()
}

// SendRaw forwards a frame without ever blocking the caller. When the buffer
// is full the frame is dropped and the drop counter incremented; the socket
// read loop must stay responsive regardless of consumer speed.
func (c *Channels) SendRaw(ctx context.Context, msg models.RawLiquidationMessage) bool {
	select {
	case c.Raw <- msg:
		c.IncrementRawSent()
		return true
	case <-ctx.Done():
		return false
	default:
		c.IncrementRawDropped()
		return false
	}
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
