// Package backendfake is an in-process storefront backend used by tests. It
// issues short-lived JWT access cookies and opaque refresh cookies so session
// expiry and refresh behave like the real API.
package backendfake

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-course-storefront/users"
	fakeuserrepo "github.com/jrsteele09/go-course-storefront/users/repofake"
)

const (
	accessCookie  = "access_token"
	refreshCookie = "refresh_token"

	// APIPrefix is the path prefix every route is served under
	APIPrefix = "/api"
)

// Options tune the fake's behaviour
type Options struct {
	AccessTTL time.Duration
	// ExpiryStatus is the status returned for an expired access token (401 or the legacy 418)
	ExpiryStatus int
	// RedirectField is the JSON field name used for the payer redirect URL
	RedirectField string
	PaymentsPath  string
	PayerBaseURL  string
}

// Backend is a fake storefront API.
type Backend struct {
	opts   Options
	secret []byte
	users  *fakeuserrepo.FakeUserRepo
	mux    *http.ServeMux

	generation atomic.Int64

	lock          sync.Mutex
	refreshTokens map[string]int64 // refresh token to member id
	payments      map[string]*Payment
	carts         map[int64][]CartItem
	history       map[int64][]json.RawMessage

	refreshCalls atomic.Int32
	readyCalls   atomic.Int32
	approveCalls atomic.Int32
	cancelCalls  atomic.Int32

	// hooks let tests block or fail individual endpoints
	hookLock      sync.RWMutex
	refreshHook   func() int
	readyHook     func() int
	approveHook   func() int
	omitPaymentID bool
	omitRedirect  bool
}

// Payment is a prepared payment as the fake tracks it
type Payment struct {
	ID         string
	MemberID   int64
	Amount     int64
	ItemName   string
	LectureIDs []int64
	PgToken    string
	Status     string
}

// CartItem is a cart line as the fake stores it
type CartItem struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	Price        int64  `json:"price"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
}

func New(opts Options) *Backend {
	if opts.AccessTTL == 0 {
		opts.AccessTTL = time.Hour
	}
	if opts.ExpiryStatus == 0 {
		opts.ExpiryStatus = http.StatusUnauthorized
	}
	if opts.RedirectField == "" {
		opts.RedirectField = "next_redirect_pc_url"
	}
	if opts.PaymentsPath == "" {
		opts.PaymentsPath = "/payments"
	}
	if opts.PayerBaseURL == "" {
		opts.PayerBaseURL = "https://pay.example"
	}

	b := &Backend{
		opts:          opts,
		secret:        []byte(uuid.NewString()),
		users:         fakeuserrepo.NewFakeUserRepo(),
		mux:           http.NewServeMux(),
		refreshTokens: make(map[string]int64),
		payments:      make(map[string]*Payment),
		carts:         make(map[int64][]CartItem),
		history:       make(map[int64][]json.RawMessage),
	}
	b.initRoutes()
	return b
}

// Start serves the backend on a loopback listener that is closed with the test
func (b *Backend) Start(t interface{ Cleanup(func()) }) *httptest.Server {
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)
	return srv
}

func (b *Backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mux.ServeHTTP(w, r)
}

// AddMember registers a member that can log in with password
func (b *Backend) AddMember(name, email, password string) (users.Identity, error) {
	hash, err := users.HashPassword(password)
	if err != nil {
		return users.Identity{}, err
	}
	account := &users.Account{Identity: users.Identity{Name: name, Email: email}, PasswordHash: hash}
	if err := b.users.Upsert(account); err != nil {
		return users.Identity{}, err
	}
	return account.Identity, nil
}

// ExpireSessions invalidates every access token issued so far. Refresh tokens stay valid.
func (b *Backend) ExpireSessions() {
	b.generation.Add(1)
}

// RevokeRefreshTokens invalidates every refresh token, so the next refresh fails
func (b *Backend) RevokeRefreshTokens() {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.refreshTokens = make(map[string]int64)
}

// OnRefresh installs a hook run before each refresh. A non-zero status is returned as-is.
func (b *Backend) OnRefresh(hook func() int) {
	b.hookLock.Lock()
	defer b.hookLock.Unlock()
	b.refreshHook = hook
}

// OnReady installs a hook run before each payment preparation
func (b *Backend) OnReady(hook func() int) {
	b.hookLock.Lock()
	defer b.hookLock.Unlock()
	b.readyHook = hook
}

// OnApprove installs a hook run before each payment approval
func (b *Backend) OnApprove(hook func() int) {
	b.hookLock.Lock()
	defer b.hookLock.Unlock()
	b.approveHook = hook
}

// OmitPaymentID makes ready responses leave out the payment id
func (b *Backend) OmitPaymentID(omit bool) {
	b.hookLock.Lock()
	defer b.hookLock.Unlock()
	b.omitPaymentID = omit
}

// OmitRedirect makes ready responses leave out the redirect URL
func (b *Backend) OmitRedirect(omit bool) {
	b.hookLock.Lock()
	defer b.hookLock.Unlock()
	b.omitRedirect = omit
}

func (b *Backend) RefreshCalls() int { return int(b.refreshCalls.Load()) }
func (b *Backend) ReadyCalls() int   { return int(b.readyCalls.Load()) }
func (b *Backend) ApproveCalls() int { return int(b.approveCalls.Load()) }
func (b *Backend) CancelCalls() int  { return int(b.cancelCalls.Load()) }

// Payment returns a copy of a prepared payment
func (b *Backend) Payment(id string) (Payment, bool) {
	b.lock.Lock()
	defer b.lock.Unlock()
	p, ok := b.payments[id]
	if !ok {
		return Payment{}, false
	}
	return *p, true
}

// Cart returns the stored cart for a member
func (b *Backend) Cart(memberID int64) []CartItem {
	b.lock.Lock()
	defer b.lock.Unlock()
	return append([]CartItem(nil), b.carts[memberID]...)
}

func (b *Backend) issueAccess(w http.ResponseWriter, memberID int64) error {
	now := time.Now()
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"sub": memberID,
		"gen": b.generation.Load(),
		"iat": now.Unix(),
		"exp": now.Add(b.opts.AccessTTL).Unix(),
		"jti": uuid.NewString(),
	}).SignedString(b.secret)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{Name: accessCookie, Value: token, Path: "/", HttpOnly: true})
	return nil
}

func (b *Backend) issueRefresh(w http.ResponseWriter, memberID int64) {
	token := uuid.NewString()
	b.lock.Lock()
	b.refreshTokens[token] = memberID
	b.lock.Unlock()
	http.SetCookie(w, &http.Cookie{Name: refreshCookie, Value: token, Path: "/", HttpOnly: true})
}

// memberFromAccess validates the access cookie and returns the member id
func (b *Backend) memberFromAccess(r *http.Request) (int64, bool) {
	cookie, err := r.Cookie(accessCookie)
	if err != nil {
		return 0, false
	}
	claims := jwtlib.MapClaims{}
	_, err = jwtlib.ParseWithClaims(cookie.Value, claims, func(*jwtlib.Token) (any, error) {
		return b.secret, nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}), jwtlib.WithExpirationRequired())
	if err != nil {
		return 0, false
	}
	gen, _ := claims["gen"].(float64)
	if int64(gen) != b.generation.Load() {
		return 0, false
	}
	sub, ok := claims["sub"].(float64)
	if !ok {
		return 0, false
	}
	return int64(sub), true
}
