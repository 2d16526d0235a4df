package popup_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-course-storefront/internal/config"
	apperrors "github.com/jrsteele09/go-course-storefront/internal/errors"
	"github.com/jrsteele09/go-course-storefront/popup"
	"github.com/jrsteele09/go-course-storefront/popup/popupfake"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	origin  = "http://127.0.0.1:3000"
	timeout = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type testFixture struct {
	cfg     config.Config
	opener  *popupfake.FakeOpener
	bus     *popup.Bus
	channel *popup.Channel
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	cfg, err := config.FromMap(map[string]string{
		"POPUP_POLL_INTERVAL": "10ms",
		"POPUP_ORIGIN":        origin,
	})
	require.NoError(t, err)

	f := &testFixture{
		cfg:    cfg,
		opener: popupfake.NewFakeOpener(),
		bus:    popup.NewBus(zerolog.Nop()),
	}
	f.channel = popup.NewChannel(f.opener, f.bus, cfg, zerolog.Nop())
	return f
}

// recorder collects monitor callbacks in arrival order
type recorder struct {
	mu     sync.Mutex
	events []string
	closed int
}

func (r *recorder) onClosed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	r.events = append(r.events, "closed")
}

func (r *recorder) onMessage(msg popup.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, msg.Type)
}

func (r *recorder) snapshot() ([]string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...), r.closed
}

func TestChannel_Open(t *testing.T) {
	t.Run("opens the url", func(t *testing.T) {
		f := setupTestFixture(t)

		w, err := f.channel.Open(context.Background(), "https://pay.example/p1")
		require.NoError(t, err)
		require.False(t, w.Closed())
		require.Equal(t, []string{"https://pay.example/p1"}, f.opener.URLs())
	})

	t.Run("refused window is reported as blocked", func(t *testing.T) {
		f := setupTestFixture(t)
		f.opener.Blocked = true

		_, err := f.channel.Open(context.Background(), "https://pay.example/p1")
		require.ErrorIs(t, err, apperrors.ErrPopupBlocked)
	})

	t.Run("opener failure is reported as blocked", func(t *testing.T) {
		f := setupTestFixture(t)
		f.opener.Fail = true

		_, err := f.channel.Open(context.Background(), "https://pay.example/p1")
		require.ErrorIs(t, err, apperrors.ErrPopupBlocked)
	})

	t.Run("close is idempotent", func(t *testing.T) {
		f := setupTestFixture(t)
		w, err := f.channel.Open(context.Background(), "https://pay.example/p1")
		require.NoError(t, err)

		require.NoError(t, f.channel.Close(w))
		require.NoError(t, f.channel.Close(w))
		require.NoError(t, f.channel.Close(nil))
		require.Equal(t, 1, f.opener.Last().CloseCalls())
	})
}

func TestChannel_Monitor(t *testing.T) {
	t.Run("delivers same-origin payment messages only", func(t *testing.T) {
		f := setupTestFixture(t)
		w, err := f.channel.Open(context.Background(), "https://pay.example/p1")
		require.NoError(t, err)

		rec := &recorder{}
		cancel := f.channel.Monitor(w, rec.onClosed, rec.onMessage)
		defer cancel()

		f.bus.Post(popup.Message{Type: popup.MessagePaymentFailed, Origin: "https://evil.example"})
		f.bus.Post(popup.Message{Type: "CART_UPDATED", Origin: origin})
		f.bus.Post(popup.Message{Type: "PAYMENT_REFUNDED", Origin: origin})
		f.bus.Post(popup.Message{Type: popup.MessagePaymentSuccess, Origin: origin})

		require.Eventually(t, func() bool {
			events, _ := rec.snapshot()
			return len(events) == 1
		}, timeout, tick)
		events, _ := rec.snapshot()
		require.Equal(t, []string{popup.MessagePaymentSuccess}, events)
	})

	t.Run("closure is reported once after pending messages", func(t *testing.T) {
		f := setupTestFixture(t)
		w, err := f.channel.Open(context.Background(), "https://pay.example/p1")
		require.NoError(t, err)

		rec := &recorder{}
		cancel := f.channel.Monitor(w, rec.onClosed, rec.onMessage)
		defer cancel()

		f.bus.Post(popup.Message{Type: popup.MessagePaymentCancelled, Origin: origin})
		f.opener.Last().CloseByUser()

		require.Eventually(t, func() bool {
			_, closed := rec.snapshot()
			return closed == 1
		}, timeout, tick)
		events, _ := rec.snapshot()
		require.Equal(t, []string{popup.MessagePaymentCancelled, "closed"}, events)

		require.Eventually(t, func() bool { return f.bus.Subscribers() == 0 }, timeout, tick)
	})

	t.Run("cancel stops polling and listening", func(t *testing.T) {
		f := setupTestFixture(t)
		w, err := f.channel.Open(context.Background(), "https://pay.example/p1")
		require.NoError(t, err)

		rec := &recorder{}
		cancel := f.channel.Monitor(w, rec.onClosed, rec.onMessage)
		cancel()
		cancel()

		require.Eventually(t, func() bool { return f.bus.Subscribers() == 0 }, timeout, tick)
		f.bus.Post(popup.Message{Type: popup.MessagePaymentSuccess, Origin: origin})
		f.opener.Last().CloseByUser()
		time.Sleep(50 * time.Millisecond)

		events, closed := rec.snapshot()
		require.Empty(t, events)
		require.Zero(t, closed)
	})
}

func TestBus(t *testing.T) {
	fill := func(bus *popup.Bus) {
		for i := 0; i < popup.SubscriberBuffer+5; i++ {
			bus.Post(popup.Message{Type: "CART_UPDATED", Origin: origin})
		}
	}

	t.Run("payment event waits for room in a full subscriber", func(t *testing.T) {
		bus := popup.NewBus(zerolog.Nop())
		messages, unsubscribe := bus.Subscribe()
		defer unsubscribe()
		fill(bus)

		posted := make(chan struct{})
		go func() {
			bus.Post(popup.Message{Type: popup.MessagePaymentSuccess, Origin: origin})
			close(posted)
		}()

		var types []string
		for len(types) < popup.SubscriberBuffer+1 {
			select {
			case msg := <-messages:
				types = append(types, msg.Type)
			case <-time.After(timeout):
				t.Fatalf("received %d messages", len(types))
			}
		}
		require.Equal(t, popup.MessagePaymentSuccess, types[len(types)-1])
		select {
		case <-posted:
		case <-time.After(timeout):
			t.Fatal("post did not return")
		}
	})

	t.Run("unrelated traffic to a full subscriber is dropped without waiting", func(t *testing.T) {
		bus := popup.NewBus(zerolog.Nop())
		messages, unsubscribe := bus.Subscribe()
		defer unsubscribe()

		start := time.Now()
		fill(bus)
		require.Less(t, time.Since(start), time.Second)
		require.Len(t, messages, popup.SubscriberBuffer)
	})

	t.Run("unsubscribing releases a waiting payment event", func(t *testing.T) {
		bus := popup.NewBus(zerolog.Nop())
		_, unsubscribe := bus.Subscribe()
		fill(bus)

		posted := make(chan struct{})
		go func() {
			bus.Post(popup.Message{Type: popup.MessagePaymentFailed, Origin: origin})
			close(posted)
		}()
		time.Sleep(20 * time.Millisecond)
		unsubscribe()
		unsubscribe()

		select {
		case <-posted:
		case <-time.After(500 * time.Millisecond):
			t.Fatal("post still waiting on a departed subscriber")
		}
		require.Zero(t, bus.Subscribers())
	})
}

func TestHandler(t *testing.T) {
	type setup struct {
		*testFixture
		server   *httptest.Server
		messages <-chan popup.Message
		released chan struct{}
	}
	newSetup := func(t *testing.T) *setup {
		f := setupTestFixture(t)
		released := make(chan struct{}, 4)
		h := popup.NewHandler(f.bus, releaserFunc(func() { released <- struct{}{} }), f.cfg, zerolog.Nop())
		srv := httptest.NewServer(h)
		t.Cleanup(srv.Close)
		messages, unsubscribe := f.bus.Subscribe()
		t.Cleanup(unsubscribe)
		return &setup{testFixture: f, server: srv, messages: messages, released: released}
	}

	receive := func(t *testing.T, ch <-chan popup.Message) popup.Message {
		t.Helper()
		select {
		case msg := <-ch:
			return msg
		case <-time.After(timeout):
			t.Fatal("no message posted")
			return popup.Message{}
		}
	}

	t.Run("success page posts the payer token", func(t *testing.T) {
		s := newSetup(t)

		resp, err := http.Get(s.server.URL + popup.RoutePaymentSuccess + "?pg_token=tok&payment_id=p1")
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "SAMEORIGIN", resp.Header.Get("X-Frame-Options"))

		msg := receive(t, s.messages)
		require.Equal(t, popup.MessagePaymentSuccess, msg.Type)
		require.Equal(t, "tok", msg.PgToken)
		require.Equal(t, "p1", msg.PaymentID)
		require.Equal(t, origin, msg.Origin)
		require.Len(t, s.released, 1)
	})

	t.Run("success page without a token is a failure", func(t *testing.T) {
		s := newSetup(t)

		resp, err := http.Get(s.server.URL + popup.RoutePaymentSuccess)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Equal(t, popup.MessagePaymentFailed, receive(t, s.messages).Type)
	})

	t.Run("fail and cancel pages", func(t *testing.T) {
		s := newSetup(t)

		resp, err := http.Get(s.server.URL + popup.RoutePaymentFail + "?error_code=E1&error_msg=card+declined")
		require.NoError(t, err)
		resp.Body.Close()
		msg := receive(t, s.messages)
		require.Equal(t, popup.MessagePaymentFailed, msg.Type)
		require.Equal(t, "card declined", msg.Error)
		require.Equal(t, "E1", msg.ErrorCode)

		resp, err = http.Get(s.server.URL + popup.RoutePaymentCancel)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, popup.MessagePaymentCancelled, receive(t, s.messages).Type)
	})

	t.Run("posted messages take the sender origin", func(t *testing.T) {
		s := newSetup(t)

		req, err := http.NewRequest(http.MethodPost, s.server.URL+popup.RoutePopupMessages,
			strings.NewReader(`{"type":"PAYMENT_SUCCESS","result":{"ok":true}}`))
		require.NoError(t, err)
		req.Header.Set("Origin", "https://evil.example")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		require.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))

		msg := receive(t, s.messages)
		require.Equal(t, "https://evil.example", msg.Origin)
		require.JSONEq(t, `{"ok":true}`, string(msg.Result))
	})

	t.Run("posted message without origin is rejected", func(t *testing.T) {
		s := newSetup(t)

		resp, err := http.Post(s.server.URL+popup.RoutePopupMessages, "application/json", strings.NewReader(`{"type":"PAYMENT_SUCCESS"}`))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("close beacon releases the window", func(t *testing.T) {
		s := newSetup(t)

		resp, err := http.Post(s.server.URL+popup.RoutePopupClosed, "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
		require.Len(t, s.released, 1)
	})
}

func TestBrowserOpener(t *testing.T) {
	t.Run("released windows read as closed", func(t *testing.T) {
		opener := popup.NewBrowserOpener(zerolog.Nop())
		popup.SetBrowserFunc(opener, func(string) error { return nil })

		w, err := opener.Open(context.Background(), "https://pay.example/p1")
		require.NoError(t, err)
		require.False(t, w.Closed())

		opener.Release()
		require.True(t, w.Closed())
	})

	t.Run("browser failure is a blocked popup", func(t *testing.T) {
		f := setupTestFixture(t)
		opener := popup.NewBrowserOpener(zerolog.Nop())
		popup.SetBrowserFunc(opener, func(string) error { return errors.New("no display") })
		channel := popup.NewChannel(opener, f.bus, f.cfg, zerolog.Nop())

		_, err := channel.Open(context.Background(), "https://pay.example/p1")
		require.ErrorIs(t, err, apperrors.ErrPopupBlocked)
	})
}

type releaserFunc func()

func (fn releaserFunc) Release() { fn() }
