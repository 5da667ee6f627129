// Package dns resolves the signaling host. The system resolver is tried
// first; when it fails, public resolvers are queried directly and the
// first answer wins.
package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// PublicServers are queried when the system lookup fails.
var PublicServers = []string{
	"1.1.1.1",              // Cloudflare
	"1.0.0.1",              // Cloudflare
	"2606:4700:4700::1111", // Cloudflare
	"8.8.8.8",              // Google
	"8.8.4.4",              // Google
	"2001:4860:4860::8888", // Google
	"9.9.9.9",              // Quad9
	"149.112.112.112",      // Quad9
	"2620:fe::fe",          // Quad9
	"208.67.222.222",       // Cisco OpenDNS
	"208.67.220.220",       // Cisco OpenDNS
}

// ErrNoAddress is returned when a resolver answers without any address.
var ErrNoAddress = errors.New("no IP addresses found")

// queryFunc resolves host through server, or through the system resolver
// when server is empty.
type queryFunc func(ctx context.Context, server, host string) ([]string, error)

// Resolver holds the fallback servers and timeouts.
type Resolver struct {
	Servers      []string
	LocalTimeout time.Duration
	RaceTimeout  time.Duration

	query queryFunc
}

// Default is used by Lookup.
var Default = &Resolver{
	Servers:      PublicServers,
	LocalTimeout: time.Second,
	RaceTimeout:  2 * time.Second,
}

// Lookup resolves host with the Default resolver.
func Lookup(ctx context.Context, host string) (string, error) {
	return Default.Lookup(ctx, host)
}

// Lookup returns one address for host, preferring IPv4. IP literals are
// returned as is.
func (r *Resolver) Lookup(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil {
		return ip.String(), nil
	}

	ip, localErr := r.lookupVia(ctx, "", host, r.LocalTimeout)
	if localErr == nil {
		return ip, nil
	}
	if len(r.Servers) == 0 {
		return "", fmt.Errorf("resolve %s: %w", host, localErr)
	}

	ip, err := r.race(ctx, host)
	if err != nil {
		return "", fmt.Errorf("resolve %s: system resolver: %v; %w", host, localErr, err)
	}
	return ip, nil
}

func (r *Resolver) lookupVia(ctx context.Context, server, host string, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	q := r.query
	if q == nil {
		q = netQuery
	}
	ips, err := q(ctx, server, host)
	if err != nil {
		return "", err
	}
	return preferIPv4(ips)
}

// race queries every fallback server at once and returns the first answer.
func (r *Resolver) race(ctx context.Context, host string) (string, error) {
	type result struct {
		ip  string
		err error
	}

	ctx, cancel := context.WithTimeout(ctx, r.RaceTimeout)
	defer cancel()

	results := make(chan result, len(r.Servers))
	for _, server := range r.Servers {
		go func() {
			ip, err := r.lookupVia(ctx, server, host, 0)
			results <- result{ip: ip, err: err}
		}()
	}

	failed := 0
	for range r.Servers {
		select {
		case res := <-results:
			if res.err == nil {
				return res.ip, nil
			}
			failed++
		case <-ctx.Done():
			return "", fmt.Errorf("public DNS race: %w", ctx.Err())
		}
	}
	return "", fmt.Errorf("all %d public DNS servers failed", failed)
}

func preferIPv4(ips []string) (string, error) {
	if len(ips) == 0 {
		return "", ErrNoAddress
	}
	for _, ip := range ips {
		if net.ParseIP(ip).To4() != nil {
			return ip, nil
		}
	}
	return ips[0], nil
}

func netQuery(ctx context.Context, server, host string) ([]string, error) {
	r := &net.Resolver{}
	if server != "" {
		r.PreferGo = true
		r.Dial = func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(server, "53"))
		}
	}
	return r.LookupHost(ctx, host)
}
