package config

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"
)

// OriginSource lists the website origins tenants registered.
type OriginSource interface {
	ListAllowedOrigins(ctx context.Context) ([]string, error)
}

// Runtime owns the settings that change while the server runs: the
// websocket origin allow list and the hot-reloadable chat texts.
type Runtime struct {
	source OriginSource

	mu        sync.RWMutex
	origins   map[string]struct{}
	allowAll  bool
	chat      ChatConfig
	refreshed time.Time
}

// NewRuntime creates a Runtime seeded from cfg.
func NewRuntime(cfg *Config, source OriginSource) *Runtime {
	r := &Runtime{source: source, origins: make(map[string]struct{})}
	r.Apply(cfg)
	return r
}

// Apply swaps in the reloadable parts of cfg.
func (r *Runtime) Apply(cfg *Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chat = cfg.Chat
	r.allowAll = cfg.Realtime.AllowAllOrigins
}

// Chat returns the current chat texts and limits.
func (r *Runtime) Chat() ChatConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.chat
}

// Refresh reloads the origin allow list from the source.
func (r *Runtime) Refresh(ctx context.Context) error {
	list, err := r.source.ListAllowedOrigins(ctx)
	if err != nil {
		return err
	}

	origins := make(map[string]struct{}, len(list))
	for _, o := range list {
		if n := normalizeOrigin(o); n != "" {
			origins[n] = struct{}{}
		}
	}

	r.mu.Lock()
	r.origins = origins
	r.refreshed = time.Now()
	r.mu.Unlock()
	return nil
}

// Run refreshes every interval until ctx is done. Errors go to onError and
// the previous list stays in effect.
func (r *Runtime) Run(ctx context.Context, interval time.Duration, onError func(error)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil && onError != nil {
				onError(err)
			}
		}
	}
}

// AllowsOrigin reports whether a browser origin may open a websocket. An
// empty origin (non-browser client) is always allowed.
func (r *Runtime) AllowsOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.allowAll {
		return true
	}
	_, ok := r.origins[normalizeOrigin(origin)]
	return ok
}

// LastRefresh returns when the origin list was last loaded.
func (r *Runtime) LastRefresh() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.refreshed
}

// normalizeOrigin reduces "https://Example.com/path" or "example.com" to
// "https://example.com".
func normalizeOrigin(raw string) string {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
