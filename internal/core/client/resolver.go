package client

import (
	"context"
	"net"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Resolver performs best-effort reverse lookups of client addresses. Results,
// including failures, are cached so a client reconnecting repeatedly does not
// trigger a DNS query every time.
type Resolver struct {
	cache *gocache.Cache

	// LookupAddr is the lookup implementation, net.DefaultResolver.LookupAddr by default.
	LookupAddr func(ctx context.Context, addr string) ([]string, error)
}

// NewResolver returns a Resolver whose entries expire after ttl. A ttl of 0
// or less keeps entries forever.
func NewResolver(ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	return &Resolver{
		cache:      gocache.New(ttl, 10*time.Minute),
		LookupAddr: defaultLookupAddr,
	}
}

// Hostname returns the first name registered for ip, or "" if the lookup fails.
func (r *Resolver) Hostname(ctx context.Context, ip string) string {
	if cached, ok := r.cache.Get(ip); ok {
		return cached.(string)
	}

	var hostname string
	if names, err := r.LookupAddr(ctx, ip); err == nil && len(names) > 0 {
		hostname = strings.TrimSuffix(names[0], ".")
	}
	r.cache.Set(ip, hostname, gocache.DefaultExpiration)
	return hostname
}

func defaultLookupAddr(ctx context.Context, addr string) ([]string, error) {
	return net.DefaultResolver.LookupAddr(ctx, addr)
}
