// Package popup manages the detached payer window and the one-way channel
// the window uses to report its outcome to the opener.
package popup

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jrsteele09/go-course-storefront/internal/config"
	apperrors "github.com/jrsteele09/go-course-storefront/internal/errors"
	"github.com/rs/zerolog"
)

const (
	MessagePaymentSuccess   = "PAYMENT_SUCCESS"
	MessagePaymentFailed    = "PAYMENT_FAILED"
	MessagePaymentCancelled = "PAYMENT_CANCELLED"

	paymentMessagePrefix = "PAYMENT_"
)

// Window is a handle on an external window. There is no close event, so
// Closed has to be polled.
type Window interface {
	Closed() bool
	Close() error
}

// Opener creates windows. An opener may return a nil or already closed
// window instead of an error when it was refused.
type Opener interface {
	Open(ctx context.Context, url string) (Window, error)
}

// Channel opens one payer window at a time and observes it.
type Channel struct {
	opener       Opener
	bus          *Bus
	origin       string
	pollInterval time.Duration
	log          zerolog.Logger
}

func NewChannel(opener Opener, bus *Bus, cfg config.PopupConfig, logger zerolog.Logger) *Channel {
	return &Channel{
		opener:       opener,
		bus:          bus,
		origin:       cfg.GetPopupOrigin(),
		pollInterval: cfg.GetPollInterval(),
		log:          logger.With().Str("component", "popup").Logger(),
	}
}

// Origin is the only sender origin whose messages are delivered
func (c *Channel) Origin() string {
	return c.origin
}

// Open opens url in a new window. A refused window is reported as ErrPopupBlocked.
func (c *Channel) Open(ctx context.Context, url string) (Window, error) {
	if url == "" {
		return nil, apperrors.Wrapf(apperrors.ErrNoRedirectURL, "[popup Open] no url")
	}

	w, err := c.opener.Open(ctx, url)
	if err != nil {
		return nil, apperrors.Join(apperrors.ErrPopupBlocked, err)
	}
	if w == nil || w.Closed() {
		return nil, apperrors.ErrPopupBlocked
	}

	c.log.Debug().Str("url", url).Msg("payer window opened")
	return w, nil
}

// Close closes w. Closing a nil or already closed window is a no-op.
func (c *Channel) Close(w Window) error {
	if w == nil || w.Closed() {
		return nil
	}
	return w.Close()
}

// Monitor polls w for closure and delivers same-origin payment messages to
// onMessage until w closes or the returned cancel is called. Messages that
// arrived before the closure was noticed are delivered first, then onClosed
// runs once. Callbacks run on the monitor's goroutine. cancel is safe to
// call any number of times and does not wait for a running callback.
func (c *Channel) Monitor(w Window, onClosed func(), onMessage func(Message)) (cancel func()) {
	messages, unsubscribe := c.bus.Subscribe()
	stop := make(chan struct{})
	var once sync.Once
	cancel = func() {
		once.Do(func() { close(stop) })
	}

	stopped := func() bool {
		select {
		case <-stop:
			return true
		default:
			return false
		}
	}

	deliver := func(msg Message) {
		if !c.accept(msg) || stopped() {
			return
		}
		if onMessage != nil {
			onMessage(msg)
		}
	}

	go func() {
		defer unsubscribe()

		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case msg := <-messages:
				deliver(msg)
			case <-ticker.C:
				if !w.Closed() {
					continue
				}
				// drain what the window sent before it went away
				for drained := false; !drained; {
					select {
					case msg := <-messages:
						deliver(msg)
					default:
						drained = true
					}
				}
				if !stopped() && onClosed != nil {
					c.log.Debug().Msg("payer window closed")
					onClosed()
				}
				cancel()
				return
			}
		}
	}()

	return cancel
}

// accept reports whether msg came from our origin and carries a payment event
func (c *Channel) accept(msg Message) bool {
	if msg.Origin != c.origin {
		c.log.Debug().Str("origin", msg.Origin).Msg("ignoring message from foreign origin")
		return false
	}
	if !strings.HasPrefix(msg.Type, paymentMessagePrefix) || !msg.IsPaymentEvent() {
		c.log.Debug().Str("type", msg.Type).Msg("ignoring non-payment message")
		return false
	}
	return true
}
