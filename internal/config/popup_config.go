package config

import (
	"strings"
	"time"
)

type PopupConfig interface {
	GetPollInterval() time.Duration
	GetPopupListenAddr() string
	GetPopupOrigin() string
}

type Popup struct {
	vars *EnvVars
}

var _ PopupConfig = Popup{}

// AllowedOrigins is a set of origins messages are accepted from
type AllowedOrigins map[string]struct{}
type nullValue = struct{}

func NewAllowedOrigins(origins ...string) AllowedOrigins {
	a := make(AllowedOrigins, len(origins))
	for _, o := range origins {
		a[strings.TrimRight(o, "/")] = nullValue{}
	}
	return a
}

func (a AllowedOrigins) IsAllowedOrigin(origin string) bool {
	_, ok := a[strings.TrimRight(origin, "/")]
	return ok
}

func (a AllowedOrigins) String() string {
	var origins []string
	for k := range a {
		origins = append(origins, k)
	}
	return strings.Join(origins, ", ")
}

func (p Popup) GetPollInterval() time.Duration {
	if p.vars == nil || p.vars.PopupPoll <= 0 {
		return time.Second
	}
	return p.vars.PopupPoll
}

func (p Popup) GetPopupListenAddr() string {
	if p.vars == nil || p.vars.PopupListenAddr == "" {
		return "127.0.0.1:3000"
	}
	return p.vars.PopupListenAddr
}

// GetPopupOrigin is the origin of the local page that hosts the payer return pages
func (p Popup) GetPopupOrigin() string {
	if p.vars == nil || p.vars.PopupOrigin == "" {
		return "http://127.0.0.1:3000"
	}
	return strings.TrimRight(p.vars.PopupOrigin, "/")
}
