package popup

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	subscriberBuffer       = 64
	paymentDeliveryTimeout = 2 * time.Second
)

// Message is a payload a window posts to its opener. Origin is set by the
// receiving side, never taken from the payload.
type Message struct {
	Type        string          `json:"type"`
	Origin      string          `json:"-"`
	PaymentID   string          `json:"paymentId,omitempty"`
	PgToken     string          `json:"pgToken,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	ErrorCode   string          `json:"errorCode,omitempty"`
	Message     string          `json:"message,omitempty"`
	RedirectURL string          `json:"redirectUrl,omitempty"`
}

// IsPaymentEvent reports whether the message type is one of the payment outcomes
func (m Message) IsPaymentEvent() bool {
	switch m.Type {
	case MessagePaymentSuccess, MessagePaymentFailed, MessagePaymentCancelled:
		return true
	}
	return false
}

// Bus fans posted messages out to every current subscriber.
type Bus struct {
	mu     sync.Mutex
	subs   map[uint64]*subscriber
	nextID uint64
	log    zerolog.Logger
}

type subscriber struct {
	ch   chan Message
	gone chan struct{}
}

func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		subs: make(map[uint64]*subscriber),
		log:  logger.With().Str("component", "popup_bus").Logger(),
	}
}

// Post delivers msg to all subscribers. Other traffic is dropped for a
// subscriber whose buffer is full; a payment event waits up to
// paymentDeliveryTimeout for room, or until the subscriber goes away.
func (b *Bus) Post(msg Message) {
	b.mu.Lock()
	subs := make(map[uint64]*subscriber, len(b.subs))
	for id, sub := range b.subs {
		subs[id] = sub
	}
	b.mu.Unlock()

	for id, sub := range subs {
		select {
		case sub.ch <- msg:
			continue
		default:
		}
		if !msg.IsPaymentEvent() {
			b.log.Debug().Uint64("subscriber", id).Str("type", msg.Type).Msg("subscriber buffer full, message dropped")
			continue
		}
		b.deliverPaymentEvent(id, sub, msg)
	}
}

func (b *Bus) deliverPaymentEvent(id uint64, sub *subscriber, msg Message) {
	timer := time.NewTimer(paymentDeliveryTimeout)
	defer timer.Stop()

	select {
	case sub.ch <- msg:
	case <-sub.gone:
	case <-timer.C:
		b.log.Error().Uint64("subscriber", id).Str("type", msg.Type).Msg("subscriber stalled, payment event not delivered")
	}
}

// Subscribe registers a listener. The returned function removes it and may be called more than once.
func (b *Bus) Subscribe() (<-chan Message, func()) {
	sub := &subscriber{
		ch:   make(chan Message, subscriberBuffer),
		gone: make(chan struct{}),
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.gone)
		})
	}
}

func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
