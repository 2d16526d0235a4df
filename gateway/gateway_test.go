package gateway_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-course-storefront/gateway"
	"github.com/jrsteele09/go-course-storefront/internal/config"
	apperrors "github.com/jrsteele09/go-course-storefront/internal/errors"
	"github.com/jrsteele09/go-course-storefront/transport"
	"github.com/jrsteele09/go-course-storefront/users"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	dataPath    = "/v1/data"
	refreshPath = "/auth/refresh"
)

// fakeBackend is a scripted transport.Doer. Data requests fail with
// expiryStatus while expired is set; the refresh handler decides the outcome.
type fakeBackend struct {
	expired      atomic.Bool
	expiryStatus int
	refreshCalls atomic.Int32
	dataCalls    atomic.Int32

	// refreshGate, when set, blocks the refresh until it is closed
	refreshGate chan struct{}
	refresh     func() (*transport.Response, error)
}

func newFakeBackend() *fakeBackend {
	fb := &fakeBackend{expiryStatus: http.StatusUnauthorized}
	fb.expired.Store(true)
	fb.refresh = func() (*transport.Response, error) {
		fb.expired.Store(false)
		return &transport.Response{StatusCode: http.StatusOK, Body: []byte(`{"data":{"id":7,"name":"Kim","email":"kim@example.com"}}`)}, nil
	}
	return fb
}

func (fb *fakeBackend) Do(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	switch req.Path {
	case refreshPath:
		fb.refreshCalls.Add(1)
		if fb.refreshGate != nil {
			<-fb.refreshGate
		}
		return fb.refresh()
	default:
		fb.dataCalls.Add(1)
		if fb.expired.Load() {
			return nil, &transport.HTTPError{StatusCode: fb.expiryStatus, Method: req.Method, Path: req.Path}
		}
		return &transport.Response{StatusCode: http.StatusOK, Body: []byte(`{"data":"fresh"}`)}, nil
	}
}

type testFixture struct {
	backend   *fakeBackend
	gateway   *gateway.Gateway
	successes atomic.Int32
	failures  atomic.Int32
	identity  atomic.Value
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	f := &testFixture{backend: newFakeBackend()}
	f.gateway = gateway.New(f.backend, config.Default(), zerolog.Nop())
	f.gateway.RegisterCallbacks(gateway.Callbacks{
		OnRefreshSuccess: func(identity users.Identity) {
			f.identity.Store(identity)
			f.successes.Add(1)
		},
		OnRefreshFailure: func() {
			f.failures.Add(1)
		},
	})
	return f
}

// runConcurrent issues n data requests and waits until n-1 of them are queued
// behind the refresh before letting the refresh finish.
func (f *testFixture) runConcurrent(t *testing.T, n int) []error {
	t.Helper()

	f.backend.refreshGate = make(chan struct{})
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := f.gateway.Do(context.Background(), transport.NewRequest(http.MethodGet, dataPath, nil))
			if err == nil {
				var data string
				_, derr := resp.DecodeData(&data)
				if derr == nil && data != "fresh" {
					err = errors.New("stale data")
				}
			}
			errs[i] = err
		}(i)
	}

	require.Eventually(t, func() bool {
		return f.gateway.Stats().Waiting == n-1
	}, 2*time.Second, 5*time.Millisecond)
	close(f.backend.refreshGate)
	wg.Wait()
	return errs
}

func TestGateway_SingleFlightRefresh(t *testing.T) {
	t.Run("concurrent expired requests share one refresh", func(t *testing.T) {
		f := setupTestFixture(t)

		errs := f.runConcurrent(t, 8)
		for _, err := range errs {
			require.NoError(t, err)
		}

		require.Equal(t, int32(1), f.backend.refreshCalls.Load())
		require.Equal(t, int32(1), f.successes.Load())
		require.Zero(t, f.failures.Load())
		require.Equal(t, users.Identity{ID: 7, Name: "Kim", Email: "kim@example.com"}, f.identity.Load())

		stats := f.gateway.Stats()
		require.False(t, stats.Refreshing)
		require.Zero(t, stats.Waiting)
		require.Equal(t, 1, stats.Refreshes)
	})

	t.Run("failed refresh rejects every waiter", func(t *testing.T) {
		f := setupTestFixture(t)
		f.backend.refresh = func() (*transport.Response, error) {
			return nil, &transport.HTTPError{StatusCode: http.StatusUnauthorized, Method: http.MethodPost, Path: refreshPath}
		}

		errs := f.runConcurrent(t, 5)
		for _, err := range errs {
			require.ErrorIs(t, err, apperrors.ErrRefreshFailed)
			require.True(t, gateway.IsSessionLost(err))

			var refreshErr *gateway.RefreshError
			require.ErrorAs(t, err, &refreshErr)
			require.Equal(t, http.StatusUnauthorized, refreshErr.Original.StatusCode)
			require.Equal(t, dataPath, refreshErr.Original.Path)
		}

		require.Equal(t, int32(1), f.backend.refreshCalls.Load())
		require.Equal(t, int32(1), f.failures.Load())
		require.Zero(t, f.successes.Load())

		stats := f.gateway.Stats()
		require.False(t, stats.Refreshing)
		require.Zero(t, stats.Waiting)
	})

	t.Run("malformed refresh body is a refresh failure", func(t *testing.T) {
		f := setupTestFixture(t)
		f.backend.refresh = func() (*transport.Response, error) {
			return &transport.Response{StatusCode: http.StatusOK, Body: []byte(`{"data":null}`)}, nil
		}

		_, err := f.gateway.Do(context.Background(), transport.NewRequest(http.MethodGet, dataPath, nil))
		require.ErrorIs(t, err, apperrors.ErrRefreshFailed)
		require.ErrorIs(t, err, apperrors.ErrMalformedRefresh)
		require.Equal(t, int32(1), f.failures.Load())
	})

	t.Run("bare identity body is accepted", func(t *testing.T) {
		f := setupTestFixture(t)
		f.backend.refresh = func() (*transport.Response, error) {
			f.backend.expired.Store(false)
			return &transport.Response{StatusCode: http.StatusOK, Body: []byte(`{"id":3,"name":"Lee"}`)}, nil
		}

		_, err := f.gateway.Do(context.Background(), transport.NewRequest(http.MethodGet, dataPath, nil))
		require.NoError(t, err)
		require.Equal(t, users.Identity{ID: 3, Name: "Lee"}, f.identity.Load())
	})

	t.Run("legacy expiry status triggers refresh", func(t *testing.T) {
		f := setupTestFixture(t)
		f.backend.expiryStatus = http.StatusTeapot

		_, err := f.gateway.Do(context.Background(), transport.NewRequest(http.MethodGet, dataPath, nil))
		require.NoError(t, err)
		require.Equal(t, int32(1), f.backend.refreshCalls.Load())
	})

	t.Run("cancelled waiter still has its continuation resolved", func(t *testing.T) {
		f := setupTestFixture(t)
		f.backend.refreshGate = make(chan struct{})

		leaderDone := make(chan error, 1)
		go func() {
			_, err := f.gateway.Do(context.Background(), transport.NewRequest(http.MethodGet, dataPath, nil))
			leaderDone <- err
		}()
		require.Eventually(t, func() bool { return f.gateway.Stats().Refreshing }, time.Second, time.Millisecond)

		ctx, cancel := context.WithCancel(context.Background())
		waiterDone := make(chan error, 1)
		go func() {
			_, err := f.gateway.Do(ctx, transport.NewRequest(http.MethodGet, dataPath, nil))
			waiterDone <- err
		}()
		require.Eventually(t, func() bool { return f.gateway.Stats().Waiting == 1 }, time.Second, time.Millisecond)

		cancel()
		require.ErrorIs(t, <-waiterDone, context.Canceled)

		close(f.backend.refreshGate)
		require.NoError(t, <-leaderDone)

		stats := f.gateway.Stats()
		require.False(t, stats.Refreshing)
		require.Zero(t, stats.Waiting)
	})
}

func TestGateway_PassThrough(t *testing.T) {
	t.Run("auth endpoints are never retried", func(t *testing.T) {
		for _, path := range []string{"/auth/login", "/auth/refresh", "/auth/logout", "/auth/logout?all=true"} {
			next := &staticDoer{err: &transport.HTTPError{StatusCode: http.StatusUnauthorized, Path: path}}
			gw := gateway.New(next, config.Default(), zerolog.Nop())

			_, err := gw.Do(context.Background(), transport.NewRequest(http.MethodPost, path, nil))
			require.Equal(t, http.StatusUnauthorized, transport.StatusCode(err))
			require.NotErrorIs(t, err, apperrors.ErrRefreshFailed)
			require.Equal(t, int32(1), next.calls.Load(), path)
		}
	})

	t.Run("already retried request passes the failure through", func(t *testing.T) {
		f := setupTestFixture(t)

		req := transport.NewRequest(http.MethodGet, dataPath, nil)
		req.Retried = true
		_, err := f.gateway.Do(context.Background(), req)

		require.Equal(t, http.StatusUnauthorized, transport.StatusCode(err))
		require.Zero(t, f.backend.refreshCalls.Load())
	})

	t.Run("replay that expires again is not re-queued", func(t *testing.T) {
		f := setupTestFixture(t)
		f.backend.refresh = func() (*transport.Response, error) {
			// session stays expired
			return &transport.Response{StatusCode: http.StatusOK, Body: []byte(`{"data":{"id":7}}`)}, nil
		}

		_, err := f.gateway.Do(context.Background(), transport.NewRequest(http.MethodGet, dataPath, nil))
		require.Equal(t, http.StatusUnauthorized, transport.StatusCode(err))
		require.Equal(t, int32(1), f.backend.refreshCalls.Load())
		require.Equal(t, int32(2), f.backend.dataCalls.Load())
	})

	t.Run("non-auth failures are reported as-is", func(t *testing.T) {
		serverErr := &transport.HTTPError{StatusCode: http.StatusInternalServerError}
		netErr := &transport.NetworkError{Cause: errors.New("connection refused")}

		for _, want := range []error{serverErr, netErr} {
			next := &staticDoer{err: want}
			gw := gateway.New(next, config.Default(), zerolog.Nop())

			_, err := gw.Do(context.Background(), transport.NewRequest(http.MethodGet, dataPath, nil))
			require.Same(t, want, err)
			require.Equal(t, int32(1), next.calls.Load())
		}
	})
}

type staticDoer struct {
	err   error
	calls atomic.Int32
}

func (s *staticDoer) Do(context.Context, *transport.Request) (*transport.Response, error) {
	s.calls.Add(1)
	return nil, s.err
}
