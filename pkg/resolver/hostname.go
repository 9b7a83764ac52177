package resolver

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/projectdiscovery/gcache"
	"github.com/projectdiscovery/gologger"
)

// HostnameOptions configures reverse lookups
type HostnameOptions struct {
	// Server is the DNS server (host:port) asked for PTR records.
	// Empty uses the system resolver only.
	Server    string
	Timeout   time.Duration
	CacheSize int
	CacheTTL  time.Duration
	// SystemFallback enables net.LookupAddr when the PTR query fails
	SystemFallback bool
}

// HostnameResolver resolves device IPs to hostnames
type HostnameResolver struct {
	options HostnameOptions
	client  *dns.Client
	cache   gcache.Cache[string, string]

	mu     sync.RWMutex
	server string
}

// NewHostnameResolver creates a hostname resolver
func NewHostnameResolver(options HostnameOptions) *HostnameResolver {
	if options.Timeout <= 0 {
		options.Timeout = 2 * time.Second
	}
	if options.CacheSize <= 0 {
		options.CacheSize = 4096
	}
	if options.CacheTTL <= 0 {
		options.CacheTTL = time.Hour
	}
	return &HostnameResolver{
		options: options,
		client:  &dns.Client{Net: "udp", Timeout: options.Timeout},
		server:  options.Server,
		cache: gcache.New[string, string](options.CacheSize).
			LRU().
			Expiration(options.CacheTTL).
			Build(),
	}
}

// SetServer changes the DNS server, typically to the gateway once known
func (h *HostnameResolver) SetServer(server string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.server = server
}

// Server returns the DNS server in use
func (h *HostnameResolver) Server() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.server
}

// Lookup returns the hostname of ip or an empty string
func (h *HostnameResolver) Lookup(ctx context.Context, ip string) string {
	if name, err := h.cache.Get(ip); err == nil {
		return name
	}

	ctx, cancel := context.WithTimeout(ctx, h.options.Timeout)
	defer cancel()

	name, err := h.queryPTR(ctx, ip)
	if err != nil {
		gologger.Debug().Msgf("PTR lookup for %s failed: %s", ip, err)
	}
	if name == "" && h.options.SystemFallback {
		if names, err := net.DefaultResolver.LookupAddr(ctx, ip); err == nil && len(names) > 0 {
			name = cleanHostname(names[0])
		}
	}
	_ = h.cache.Set(ip, name)
	return name
}

func (h *HostnameResolver) queryPTR(ctx context.Context, ip string) (string, error) {
	server := h.Server()
	if server == "" {
		return "", nil
	}
	arpa, err := dns.ReverseAddr(ip)
	if err != nil {
		return "", err
	}

	msg := new(dns.Msg)
	msg.SetQuestion(arpa, dns.TypePTR)
	msg.RecursionDesired = true

	resp, _, err := h.client.ExchangeContext(ctx, msg, server)
	if err != nil {
		return "", err
	}
	if resp.Rcode != dns.RcodeSuccess {
		return "", nil
	}
	for _, rr := range resp.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			return cleanHostname(ptr.Ptr), nil
		}
	}
	return "", nil
}

func cleanHostname(name string) string {
	return strings.TrimSuffix(strings.TrimSpace(name), ".")
}
