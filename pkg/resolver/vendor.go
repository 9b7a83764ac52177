package resolver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/projectdiscovery/gcache"
	"github.com/projectdiscovery/gologger"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const (
	// DefaultVendorURL is the online OUI lookup, {oui} is replaced by six hex digits
	DefaultVendorURL = "https://api.maclookup.app/v2/macs/{oui}"
	// DefaultLookupTimeout bounds a single online lookup
	DefaultLookupTimeout = 3 * time.Second
	// DefaultCacheTTL is how long resolved names are kept
	DefaultCacheTTL = 24 * time.Hour
)

// VendorOptions configures the vendor resolver
type VendorOptions struct {
	// LookupURL is the online lookup endpoint, empty disables it
	LookupURL string
	Timeout   time.Duration
	// RatePerSecond caps online lookups
	RatePerSecond float64
	CacheSize     int
	CacheTTL      time.Duration
	HTTPClient    *http.Client
}

// DefaultVendorOptions returns the vendor resolver defaults
func DefaultVendorOptions() VendorOptions {
	return VendorOptions{
		LookupURL:     DefaultVendorURL,
		Timeout:       DefaultLookupTimeout,
		RatePerSecond: 1,
		CacheSize:     4096,
		CacheTTL:      DefaultCacheTTL,
	}
}

// VendorResolver maps hardware addresses to manufacturer names
type VendorResolver struct {
	options VendorOptions
	client  *http.Client
	limiter *rate.Limiter
	cache   gcache.Cache[string, string]
}

// NewVendorResolver creates a vendor resolver
func NewVendorResolver(options VendorOptions) *VendorResolver {
	defaults := DefaultVendorOptions()
	if options.Timeout <= 0 {
		options.Timeout = defaults.Timeout
	}
	if options.RatePerSecond <= 0 {
		options.RatePerSecond = defaults.RatePerSecond
	}
	if options.CacheSize <= 0 {
		options.CacheSize = defaults.CacheSize
	}
	if options.CacheTTL <= 0 {
		options.CacheTTL = defaults.CacheTTL
	}
	client := options.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: options.Timeout}
	}
	return &VendorResolver{
		options: options,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(options.RatePerSecond), 1),
		cache: gcache.New[string, string](options.CacheSize).
			LRU().
			Expiration(options.CacheTTL).
			Build(),
	}
}

// Lookup returns the vendor of mac, or an empty string when unknown
func (v *VendorResolver) Lookup(ctx context.Context, mac string) string {
	oui, ok := OUI(mac)
	if !ok {
		return ""
	}
	if vendor, err := v.cache.Get(oui); err == nil {
		return vendor
	}
	if vendor, ok := builtinOUI[oui]; ok {
		_ = v.cache.Set(oui, vendor)
		return vendor
	}
	if isLocallyAdministered(oui) || v.options.LookupURL == "" {
		return ""
	}

	vendor, cacheable, err := v.lookupOnline(ctx, oui)
	if err != nil {
		gologger.Debug().Msgf("vendor lookup for %s failed: %s", oui, err)
	}
	if cacheable {
		_ = v.cache.Set(oui, vendor)
	}
	return vendor
}

// lookupOnline queries the configured API. Definitive answers, including
// "not found", are reported as cacheable.
func (v *VendorResolver) lookupOnline(ctx context.Context, oui string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, v.options.Timeout)
	defer cancel()

	if err := v.limiter.Wait(ctx); err != nil {
		return "", false, err
	}

	url := strings.ReplaceAll(v.options.LookupURL, "{oui}", oui)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Accept", "application/json, text/plain")

	resp, err := v.client.Do(req)
	if err != nil {
		return "", false, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", true, nil
	default:
		return "", false, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", false, err
	}
	return parseVendorBody(body), true, nil
}

// parseVendorBody accepts maclookup style JSON or a plain text vendor name
func parseVendorBody(body []byte) string {
	if gjson.ValidBytes(body) {
		result := gjson.ParseBytes(body)
		if !result.IsObject() {
			return ""
		}
		if found := result.Get("found"); found.Exists() && !found.Bool() {
			return ""
		}
		for _, key := range []string{"company", "vendor", "result.company"} {
			if name := strings.TrimSpace(result.Get(key).String()); name != "" {
				return name
			}
		}
		return ""
	}
	return strings.TrimSpace(string(body))
}

// OUI returns the six uppercase hex digits identifying the manufacturer
func OUI(mac string) (string, bool) {
	var sb strings.Builder
	for _, r := range mac {
		switch {
		case r >= '0' && r <= '9', r >= 'A' && r <= 'F':
			sb.WriteRune(r)
		case r >= 'a' && r <= 'f':
			sb.WriteRune(r - 'a' + 'A')
		case r == ':' || r == '-' || r == '.':
		default:
			return "", false
		}
		if sb.Len() == 6 {
			return sb.String(), true
		}
	}
	return "", false
}

// isLocallyAdministered reports randomized or private addresses, which have no vendor
func isLocallyAdministered(oui string) bool {
	if len(oui) < 2 {
		return false
	}
	second := oui[1]
	return second == '2' || second == '6' || second == 'A' || second == 'E'
}
