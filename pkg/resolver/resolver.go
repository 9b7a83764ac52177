// Package resolver derives identity attributes of LAN devices: manufacturer
// from the hardware address, hostname from reverse DNS, and a coarse device
// type from both.
package resolver

import (
	"context"
)

// Identity is the resolved identity of a device
type Identity struct {
	Hostname   string
	Vendor     string
	DeviceType string
}

// Resolver combines the vendor and hostname resolvers
type Resolver struct {
	Vendors   *VendorResolver
	Hostnames *HostnameResolver
}

// New creates a resolver
func New(vendor VendorOptions, hostname HostnameOptions) *Resolver {
	return &Resolver{
		Vendors:   NewVendorResolver(vendor),
		Hostnames: NewHostnameResolver(hostname),
	}
}

// Resolve looks up everything known about a device
func (r *Resolver) Resolve(ctx context.Context, ip, mac string) Identity {
	identity := Identity{
		Vendor:   r.Vendors.Lookup(ctx, mac),
		Hostname: r.Hostnames.Lookup(ctx, ip),
	}
	identity.DeviceType = GuessDeviceType(identity.Hostname, identity.Vendor)
	return identity
}
