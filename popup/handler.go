package popup

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-course-storefront/internal/config"
	"github.com/rs/zerolog"
)

const (
	RoutePopupMessages  = "/popup/messages"
	RoutePopupClosed    = "/popup/closed"
	RoutePaymentSuccess = "/payment/success"
	RoutePaymentFail    = "/payment/fail"
	RoutePaymentCancel  = "/payment/cancel"

	defaultFailureMessage = "payment processing failed"
	cancelledMessage      = "the payer cancelled the payment"
	maxMessageBytes       = 64 << 10
)

// Releaser is told when the payer window has finished and can be treated as closed
type Releaser interface {
	Release()
}

var resultPage = template.Must(template.New("result").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body><h1>{{.Title}}</h1><p>{{.Message}}</p><p>You can close this window.</p></body></html>
`))

// Handler is the opener-side HTTP ingress for the payer window: the payment
// provider redirects the window to the return pages, and pages served from
// the popup origin may post messages directly.
type Handler struct {
	env      string
	mux      *http.ServeMux
	routes   []string
	bus      *Bus
	origin   string
	allowed  config.AllowedOrigins
	releaser Releaser
	log      zerolog.Logger
}

type handlerConfig interface {
	config.EnvConfig
	config.PopupConfig
}

// NewHandler builds the ingress. releaser may be nil.
func NewHandler(bus *Bus, releaser Releaser, cfg handlerConfig, logger zerolog.Logger) *Handler {
	h := &Handler{
		env:      cfg.GetEnv(),
		mux:      http.NewServeMux(),
		bus:      bus,
		origin:   cfg.GetPopupOrigin(),
		allowed:  config.NewAllowedOrigins(cfg.GetPopupOrigin()),
		releaser: releaser,
		log:      logger.With().Str("component", "popup_handler").Logger(),
	}
	h.initRoutes()
	return h
}

func (h *Handler) initRoutes() {
	h.RegisterRouteFunc("POST "+RoutePopupMessages, ChainMiddleware(h.MessageHandler(), h.APIMiddleware()...))
	h.RegisterRouteFunc("OPTIONS "+RoutePopupMessages, ChainMiddleware(h.MessageHandler(), h.APIMiddleware()...))
	h.RegisterRouteFunc("POST "+RoutePopupClosed, ChainMiddleware(h.ClosedHandler(), h.APIMiddleware()...))

	h.RegisterRouteFunc("GET "+RoutePaymentSuccess, ChainMiddleware(h.SuccessPageHandler(), h.HTMLMiddleware()...))
	h.RegisterRouteFunc("GET "+RoutePaymentFail, ChainMiddleware(h.FailurePageHandler(), h.HTMLMiddleware()...))
	h.RegisterRouteFunc("GET "+RoutePaymentCancel, ChainMiddleware(h.CancelPageHandler(), h.HTMLMiddleware()...))
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	h.routes = append(h.routes, pattern)
	h.mux.HandleFunc(pattern, handler)
}

// Routes lists the registered patterns
func (h *Handler) Routes() []string {
	return append([]string(nil), h.routes...)
}

// MessageHandler accepts a message posted by a page in the payer window. The
// sender's Origin header becomes the message origin.
func (h *Handler) MessageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		origin := r.Header.Get("Origin")
		if origin == "" {
			http.Error(w, "missing origin", http.StatusBadRequest)
			return
		}

		var msg Message
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes)).Decode(&msg); err != nil {
			http.Error(w, "invalid message", http.StatusBadRequest)
			return
		}
		msg.Origin = strings.TrimRight(origin, "/")
		h.bus.Post(msg)

		w.WriteHeader(http.StatusAccepted)
	}
}

// ClosedHandler is the beacon a payer page sends when it unloads
func (h *Handler) ClosedHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.release()
		w.WriteHeader(http.StatusNoContent)
	}
}

// SuccessPageHandler is the provider's success redirect target. It carries the
// payer token needed to approve the payment.
func (h *Handler) SuccessPageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		pgToken := query.Get("pg_token")
		if pgToken == "" {
			h.finish(w, http.StatusBadRequest, Message{
				Type:  MessagePaymentFailed,
				Error: "payment result is missing the payment token",
			}, "Payment failed")
			return
		}

		h.finish(w, http.StatusOK, Message{
			Type:      MessagePaymentSuccess,
			PgToken:   pgToken,
			PaymentID: query.Get("payment_id"),
		}, "Payment authorised")
	}
}

func (h *Handler) FailurePageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		errorMessage := query.Get("error_msg")
		if errorMessage == "" {
			errorMessage = defaultFailureMessage
		}

		h.finish(w, http.StatusOK, Message{
			Type:      MessagePaymentFailed,
			Error:     errorMessage,
			ErrorCode: query.Get("error_code"),
		}, "Payment failed")
	}
}

func (h *Handler) CancelPageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.finish(w, http.StatusOK, Message{
			Type:    MessagePaymentCancelled,
			Message: cancelledMessage,
		}, "Payment cancelled")
	}
}

// finish posts msg as the popup origin, releases the window and renders the result page
func (h *Handler) finish(w http.ResponseWriter, status int, msg Message, title string) {
	msg.Origin = h.origin
	h.bus.Post(msg)
	h.release()

	text := msg.Error
	if text == "" {
		text = msg.Message
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := resultPage.Execute(w, map[string]string{"Title": title, "Message": text}); err != nil {
		h.log.Error().Err(err).Msg("render result page")
	}
}

func (h *Handler) release() {
	if h.releaser != nil {
		h.releaser.Release()
	}
}

// ChainMiddleware wraps routeFunction so the first middleware runs outermost
func ChainMiddleware(routeFunction http.HandlerFunc, mw ...func(http.HandlerFunc) http.HandlerFunc) http.HandlerFunc {
	chainedHandler := routeFunction
	for i := len(mw) - 1; i >= 0; i-- {
		chainedHandler = mw[i](chainedHandler)
	}
	return chainedHandler
}

func (h *Handler) HTMLMiddleware() []func(http.HandlerFunc) http.HandlerFunc {
	return []func(http.HandlerFunc) http.HandlerFunc{
		h.LoggingMiddleware,
		h.RecoverMiddleware,
		h.FrameSecurityMiddleware,
	}
}

func (h *Handler) APIMiddleware() []func(http.HandlerFunc) http.HandlerFunc {
	return []func(http.HandlerFunc) http.HandlerFunc{
		h.LoggingMiddleware,
		h.RecoverMiddleware,
		h.CorsMiddleware,
	}
}

func (h *Handler) LoggingMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.env == "DEV" {
			h.log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("popup request")
		}
		next(w, r)
	}
}

func (h *Handler) RecoverMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.log.Error().Str("path", r.URL.Path).Str("panic", fmt.Sprint(rec)).Msg("handler panicked")
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		next(w, r)
	}
}

func (h *Handler) FrameSecurityMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "SAMEORIGIN")
		w.Header().Set("Content-Security-Policy", "frame-ancestors 'self'")
		next(w, r)
	}
}

// CorsMiddleware only answers cross-origin callers from the popup origin.
// Other origins get no CORS headers; the channel discards their messages anyway.
func (h *Handler) CorsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && h.allowed.IsAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}
		}
		next(w, r)
	}
}
