package config

import "time"

type GatewayConfig interface {
	GetRefreshTimeout() time.Duration
	GetExpiryStatuses() []int
	GetNoRetryPaths() []string
	GetRefreshPath() string
	GetStatusPath() string
	GetLoginPath() string
	GetLogoutPath() string
}

type Gateway struct {
	vars *EnvVars
}

var _ GatewayConfig = Gateway{}

const (
	loginPath   = "/auth/login"
	refreshPath = "/auth/refresh"
	logoutPath  = "/auth/logout"
	statusPath  = "/auth/status"
)

func (g Gateway) GetRefreshTimeout() time.Duration {
	if g.vars == nil || g.vars.RefreshTimeout <= 0 {
		return 15 * time.Second
	}
	return g.vars.RefreshTimeout
}

// GetExpiryStatuses returns the status codes that signal an expired session.
// 418 is kept alongside 401 for older backend builds.
func (g Gateway) GetExpiryStatuses() []int {
	if g.vars == nil || len(g.vars.ExpiryStatuses) == 0 {
		return []int{401, 418}
	}
	return g.vars.ExpiryStatuses
}

func (Gateway) GetNoRetryPaths() []string {
	return []string{loginPath, refreshPath, logoutPath}
}

func (Gateway) GetRefreshPath() string {
	return refreshPath
}

func (Gateway) GetStatusPath() string {
	return statusPath
}

func (Gateway) GetLoginPath() string {
	return loginPath
}

func (Gateway) GetLogoutPath() string {
	return logoutPath
}
