package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/jrsteele09/go-course-storefront/internal/config"
	apperrors "github.com/jrsteele09/go-course-storefront/internal/errors"
	"github.com/jrsteele09/go-course-storefront/transport"
	"github.com/jrsteele09/go-course-storefront/users"
	"github.com/rs/zerolog"
)

// Callbacks let the session layer observe refresh outcomes without the
// gateway importing it.
type Callbacks struct {
	OnRefreshSuccess func(identity users.Identity)
	OnRefreshFailure func()
}

// Stats is a point-in-time view of the refresh coordination state.
type Stats struct {
	Refreshing bool
	Waiting    int
	Refreshes  int
}

// Gateway wraps a transport and transparently renews an expired session.
// At most one refresh call is outstanding at a time; requests that hit an
// expired session while it runs wait in FIFO order and are released with
// its outcome.
type Gateway struct {
	next   transport.Doer
	config config.GatewayConfig
	log    zerolog.Logger

	expiry  map[int]struct{}
	noRetry map[string]struct{}

	cbLock    sync.RWMutex
	callbacks Callbacks

	mu         sync.Mutex
	refreshing bool
	waitQueue  []chan error
	refreshes  int
}

var _ transport.Doer = (*Gateway)(nil)

func New(next transport.Doer, cfg config.GatewayConfig, logger zerolog.Logger) *Gateway {
	g := &Gateway{
		next:    next,
		config:  cfg,
		log:     logger.With().Str("component", "gateway").Logger(),
		expiry:  make(map[int]struct{}),
		noRetry: make(map[string]struct{}),
	}
	for _, status := range cfg.GetExpiryStatuses() {
		g.expiry[status] = struct{}{}
	}
	for _, path := range cfg.GetNoRetryPaths() {
		g.noRetry[path] = struct{}{}
	}
	return g
}

// RegisterCallbacks replaces the refresh outcome callbacks
func (g *Gateway) RegisterCallbacks(cb Callbacks) {
	g.cbLock.Lock()
	defer g.cbLock.Unlock()
	g.callbacks = cb
}

func (g *Gateway) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{Refreshing: g.refreshing, Waiting: len(g.waitQueue), Refreshes: g.refreshes}
}

// Do sends req through the underlying transport, recovering once from an
// authentication-expired response by refreshing the session.
func (g *Gateway) Do(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	resp, err := g.next.Do(ctx, req)
	if err == nil {
		return resp, nil
	}

	var httpErr *transport.HTTPError
	if !apperrors.As(err, &httpErr) || !g.isExpiry(httpErr.StatusCode) {
		return nil, err
	}
	if req.Retried || g.isNoRetryPath(req.Path) {
		return nil, err
	}

	retry := req.MarkRetried()

	g.mu.Lock()
	if g.refreshing {
		// buffered so the release never blocks on a caller that gave up
		wait := make(chan error, 1)
		g.waitQueue = append(g.waitQueue, wait)
		g.mu.Unlock()
		return g.awaitRefresh(ctx, wait, retry)
	}
	g.refreshing = true
	g.refreshes++
	g.mu.Unlock()

	identity, refreshErr := g.refresh(ctx)
	if refreshErr != nil {
		rerr := &RefreshError{Cause: refreshErr, Original: httpErr}
		g.notifyFailure()
		g.release(rerr)
		g.log.Warn().Err(refreshErr).Str("path", req.Path).Msg("session refresh failed")
		return nil, rerr
	}

	g.notifySuccess(identity)
	g.release(nil)
	g.log.Info().Int64("member_id", identity.ID).Msg("session refreshed")

	return g.Do(ctx, retry)
}

func (g *Gateway) awaitRefresh(ctx context.Context, wait <-chan error, retry *transport.Request) (*transport.Response, error) {
	select {
	case err := <-wait:
		if err != nil {
			return nil, err
		}
		return g.Do(ctx, retry)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// release ends the refresh cycle and resolves every waiter in arrival order
func (g *Gateway) release(err error) {
	g.mu.Lock()
	queue := g.waitQueue
	g.waitQueue = nil
	g.refreshing = false
	g.mu.Unlock()

	for _, wait := range queue {
		wait <- err
	}
}

// refresh performs the refresh call. It is not cancelled by the caller: once
// started it runs until the backend answers or the refresh timeout elapses.
func (g *Gateway) refresh(ctx context.Context) (users.Identity, error) {
	refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.config.GetRefreshTimeout())
	defer cancel()

	g.log.Debug().Msg("refreshing session")

	resp, err := g.next.Do(refreshCtx, transport.NewRequest(http.MethodPost, g.config.GetRefreshPath(), nil))
	if err != nil {
		return users.Identity{}, err
	}
	return parseIdentity(resp)
}

// parseIdentity accepts the identity either inside the data envelope or as
// the bare body
func parseIdentity(resp *transport.Response) (users.Identity, error) {
	var identity users.Identity
	ok, err := resp.DecodeData(&identity)
	if err != nil {
		return users.Identity{}, apperrors.Wrapf(apperrors.ErrMalformedRefresh, "decode: %v", err)
	}
	if !ok {
		var raw map[string]json.RawMessage
		if json.Unmarshal(resp.Body, &raw) != nil || raw["id"] == nil {
			return users.Identity{}, apperrors.ErrMalformedRefresh
		}
		if err := json.Unmarshal(resp.Body, &identity); err != nil {
			return users.Identity{}, apperrors.ErrMalformedRefresh
		}
	}
	if identity.IsZero() {
		return users.Identity{}, apperrors.ErrMalformedRefresh
	}
	return identity, nil
}

func (g *Gateway) notifySuccess(identity users.Identity) {
	g.cbLock.RLock()
	fn := g.callbacks.OnRefreshSuccess
	g.cbLock.RUnlock()
	if fn != nil {
		fn(identity)
	}
}

func (g *Gateway) notifyFailure() {
	g.cbLock.RLock()
	fn := g.callbacks.OnRefreshFailure
	g.cbLock.RUnlock()
	if fn != nil {
		fn()
	}
}

func (g *Gateway) isExpiry(status int) bool {
	_, ok := g.expiry[status]
	return ok
}

func (g *Gateway) isNoRetryPath(path string) bool {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	_, ok := g.noRetry[path]
	return ok
}

