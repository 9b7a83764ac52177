package runner

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/projectdiscovery/netwarden/pkg/engine"
	"github.com/projectdiscovery/netwarden/pkg/types"
	"gopkg.in/yaml.v3"
)

// Policy is the yaml policy file: engine tuning plus the actions applied
// at startup
type Policy struct {
	Engine  engine.Options    `yaml:"engine"`
	Cut     []string          `yaml:"cut"`
	Protect []string          `yaml:"protect"`
	Limits  map[string]string `yaml:"limits"`
}

// LoadPolicy reads a policy file
func LoadPolicy(location string) (*Policy, error) {
	data, err := os.ReadFile(location)
	if err != nil {
		return nil, err
	}
	policy := &Policy{}
	if err := yaml.Unmarshal(data, policy); err != nil {
		return nil, fmt.Errorf("invalid policy %s: %w", location, err)
	}
	return policy, nil
}

// engineOptions merges the policy file with the flags, flags win
func (options *Options) engineOptions(policy *Policy) engine.Options {
	merged := engine.Options{}
	if policy != nil {
		merged = policy.Engine
	}
	if options.Interface != "" {
		merged.Interface = options.Interface
	}
	if options.ScanInterval > 0 {
		merged.ScanInterval = options.ScanInterval
	}
	if options.ReplyWindow > 0 {
		merged.ReplyWindow = options.ReplyWindow
	}
	if options.FakePoisonMAC {
		merged.FakePoisonMAC = true
	}
	if options.VendorAPI != "" {
		merged.VendorLookupURL = options.VendorAPI
	}
	if options.NoVendorLookup {
		merged.DisableVendorLookup = true
	}
	if options.DNSResolver != "" {
		merged.DNSResolver = options.DNSResolver
	}
	return merged
}

// LimitRequest is one ip=rate pair
type LimitRequest struct {
	IP  string
	BPS uint64
}

// parseLimits parses ip=rate flag values and policy entries
func parseLimits(values []string, policy map[string]string) ([]LimitRequest, error) {
	var requests []LimitRequest
	add := func(ip, rate string) error {
		if _, err := types.ParseIPv4(ip); err != nil {
			return err
		}
		bps, err := ParseRate(rate)
		if err != nil {
			return err
		}
		requests = append(requests, LimitRequest{IP: ip, BPS: bps})
		return nil
	}
	for ip, rate := range policy {
		if err := add(strings.TrimSpace(ip), rate); err != nil {
			return nil, err
		}
	}
	for _, value := range values {
		ip, rate, ok := strings.Cut(value, "=")
		if !ok {
			return nil, types.NewError(types.KindInvalidInput, "limit", value, fmt.Errorf("expected ip=rate"))
		}
		if err := add(strings.TrimSpace(ip), rate); err != nil {
			return nil, err
		}
	}
	return requests, nil
}

// ParseRate parses a bit rate such as 512k, 2m, 1.5g or 64000
func ParseRate(value string) (uint64, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	value = strings.TrimSuffix(value, "bps")
	value = strings.TrimSuffix(value, "bit")
	multiplier := 1.0
	switch {
	case strings.HasSuffix(value, "k"):
		multiplier = 1e3
	case strings.HasSuffix(value, "m"):
		multiplier = 1e6
	case strings.HasSuffix(value, "g"):
		multiplier = 1e9
	}
	if multiplier != 1 {
		value = value[:len(value)-1]
	}
	number, err := strconv.ParseFloat(value, 64)
	if err != nil || number < 0 {
		return 0, types.NewError(types.KindInvalidInput, "rate", value, fmt.Errorf("invalid rate"))
	}
	return uint64(number * multiplier), nil
}
