// File: relay/resolver.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Resolver maps "host:port" upstream targets to TCP addresses with a TTL
// cache, so the accept path resolves the upstream only on a miss.

package relay

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/momentics/hioload-relay/api"
	"github.com/patrickmn/go-cache"
)

// DefaultResolveTTL is how long a resolved upstream stays cached.
const DefaultResolveTTL = 30 * time.Second

// LookupFunc resolves host to IP addresses.
type LookupFunc func(ctx context.Context, host string) ([]net.IPAddr, error)

// Resolver caches resolved upstream addresses.
type Resolver struct {
	cache  *cache.Cache
	lookup LookupFunc
}

// NewResolver creates a Resolver with the given TTL. lookup defaults to
// net.DefaultResolver.
func NewResolver(ttl time.Duration, lookup LookupFunc) *Resolver {
	if ttl <= 0 {
		ttl = DefaultResolveTTL
	}
	if lookup == nil {
		lookup = net.DefaultResolver.LookupIPAddr
	}
	return &Resolver{
		cache:  cache.New(ttl, 2*ttl),
		lookup: lookup,
	}
}

// Cached returns a cached address without resolving.
func (r *Resolver) Cached(target string) (*net.TCPAddr, bool) {
	if v, ok := r.cache.Get(target); ok {
		return v.(*net.TCPAddr), true
	}
	return nil, false
}

// Resolve returns the address for target, resolving and caching on a miss.
// IPv4 results are preferred.
func (r *Resolver) Resolve(ctx context.Context, target string) (*net.TCPAddr, error) {
	if addr, ok := r.Cached(target); ok {
		return addr, nil
	}
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w: %w", target, api.ErrInvalidArgument, err)
	}
	port, err := net.DefaultResolver.LookupPort(ctx, "tcp", portStr)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", target, err)
	}

	var ip net.IP
	var zone string
	if parsed := net.ParseIP(host); parsed != nil {
		ip = parsed
	} else {
		if host == "" {
			host = "localhost"
		}
		addrs, err := r.lookup(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("resolve %q: %w", target, err)
		}
		if len(addrs) == 0 {
			return nil, fmt.Errorf("resolve %q: no addresses: %w", target, api.ErrInvalidArgument)
		}
		ip, zone = addrs[0].IP, addrs[0].Zone
		for _, a := range addrs {
			if a.IP.To4() != nil {
				ip, zone = a.IP, a.Zone
				break
			}
		}
	}
	addr := &net.TCPAddr{IP: ip, Port: port, Zone: zone}
	r.cache.Set(target, addr, cache.DefaultExpiration)
	return addr, nil
}

// Forget evicts target, forcing the next Resolve to look it up again.
func (r *Resolver) Forget(target string) {
	r.cache.Delete(target)
}

// Len returns the number of cached targets.
func (r *Resolver) Len() int {
	return r.cache.ItemCount()
}
