package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"liqflow/config"
	"liqflow/logger"
)

// Delivery outcomes the pipeline dispatches on. ErrBadPayload marks a
// rejected message body, a local defect that must never be retried.
// ErrRateLimited marks throttling by the Telegram API.
var (
	ErrBadPayload  = errors.New("telegram rejected message payload")
	ErrRateLimited = errors.New("telegram rate limited")
)

// Sink delivers one rendered alert. Implementations must be safe for
// concurrent use by both feed pipelines.
type Sink interface {
	Send(ctx context.Context, text string) error
}

// Telegram sends MarkdownV2 messages to a single chat, pacing outbound
// requests through a local token-bucket limiter so bursts of liquidations
// do not immediately trip the Bot API flood control.
type Telegram struct {
	api     *tgbotapi.BotAPI
	chatID  int64
	limiter *rate.Limiter
	log     *logger.Entry
}

// NewTelegram authenticates against the Bot API. A failed getMe is a fatal
// startup error and is returned to the caller.
func NewTelegram(cfg config.TelegramConfig, log *logger.Log) (*Telegram, error) {
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	api, err := tgbotapi.NewBotAPIWithClient(cfg.Token, tgbotapi.APIEndpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	entry := log.WithComponent("telegram")
	entry.Infof("Authorized on account %s", api.Self.UserName)

	return &Telegram{
		api:     api,
		chatID:  cfg.ChatID,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitRate), cfg.RateLimitBurst),
		log:     entry,
	}, nil
}

// maxRetryWait caps how long a 429 retry-after hint is honored.
const maxRetryWait = 30 * time.Second

// Send delivers one message, waiting on the local limiter first. The wait is
// bounded by ctx, so shutdown never blocks behind queued sends. A throttled
// send is retried once after honoring the server's retry-after hint; a second
// failure is returned for the caller to drop.
func (t *Telegram) Send(ctx context.Context, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}

	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.DisableWebPagePreview = true

	_, err := t.api.Send(msg)
	if err == nil {
		return nil
	}
	classified := classify(err)
	if !errors.Is(classified, ErrRateLimited) {
		return classified
	}

	delay := retryAfter(err)
	if delay <= 0 {
		delay = time.Second
	}
	if delay > maxRetryWait {
		delay = maxRetryWait
	}
	t.log.WithField("delay", delay.String()).Warn("telegram throttled, retrying once")

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
	}
	if _, err := t.api.Send(msg); err != nil {
		return classify(err)
	}
	return nil
}

// retryAfter extracts the server's retry-after hint from a 429 response.
func retryAfter(err error) time.Duration {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return time.Duration(apiErr.RetryAfter) * time.Second
	}
	return 0
}

// classify folds Bot API errors into the delivery taxonomy. 429 responses
// become ErrRateLimited carrying the server's retry-after hint; other 4xx
// responses mean the payload itself is defective.
func classify(err error) error {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		retryAfter := time.Duration(apiErr.RetryAfter) * time.Second
		return fmt.Errorf("%w (retry after %s): %s", ErrRateLimited, retryAfter, apiErr.Message)
	case apiErr.Code >= 400 && apiErr.Code < 500:
		return fmt.Errorf("%w: %d %s", ErrBadPayload, apiErr.Code, apiErr.Message)
	default:
		return err
	}
}
