// Package registry holds the authoritative set of devices seen on the segment.
//
// All access goes through the Registry methods. Reads return copies, writes
// run a callback under the lock so callers never write back stale snapshots.
// No I/O happens while the lock is held.
package registry

import (
	"bytes"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/projectdiscovery/netwarden/pkg/types"
)

// Sighting is one (ip, mac) pair observed during a discovery pass
type Sighting struct {
	IP  string
	MAC string
}

// Move records a device that changed IP address
type Move struct {
	From string
	To   string
	MAC  string
}

// ObserveResult summarizes what a discovery pass changed
type ObserveResult struct {
	Added      []string
	Moved      []Move
	MACChanged []string
}

// Registry is the lock-guarded device store keyed by IP
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*types.Device
}

// New creates an empty registry
func New() *Registry {
	return &Registry{devices: make(map[string]*types.Device)}
}

// Observe records the sightings of one discovery pass at time now.
//
// A known IP with a new MAC is updated in place. An unknown IP whose MAC
// belongs to an entry that was not sighted in this pass is the same device
// after an address change: the entry is re-keyed rather than duplicated.
func (r *Registry) Observe(sightings []Sighting, now time.Time) ObserveResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	sighted := make(map[string]struct{}, len(sightings))
	for _, s := range sightings {
		sighted[s.IP] = struct{}{}
	}

	var result ObserveResult
	for _, s := range sightings {
		if device, ok := r.devices[s.IP]; ok {
			if device.MAC != s.MAC {
				device.MAC = s.MAC
				device.Vendor = ""
				device.Hostname = ""
				device.DeviceType = ""
				result.MACChanged = append(result.MACChanged, s.IP)
			}
			device.LastSeen = now
			device.Status = types.StatusActive
			continue
		}

		if previous := r.findMovedLocked(s.MAC, sighted); previous != nil {
			from := previous.IP
			delete(r.devices, from)
			previous.IP = s.IP
			previous.LastSeen = now
			previous.Status = types.StatusActive
			r.devices[s.IP] = previous
			result.Moved = append(result.Moved, Move{From: from, To: s.IP, MAC: s.MAC})
			continue
		}

		r.devices[s.IP] = &types.Device{
			IP:        s.IP,
			MAC:       s.MAC,
			Status:    types.StatusActive,
			FirstSeen: now,
			LastSeen:  now,
		}
		result.Added = append(result.Added, s.IP)
	}
	return result
}

func (r *Registry) findMovedLocked(mac string, sighted map[string]struct{}) *types.Device {
	for ip, device := range r.devices {
		if device.MAC != mac {
			continue
		}
		if _, seen := sighted[ip]; seen {
			continue
		}
		return device
	}
	return nil
}

// Get returns a copy of the device at ip
func (r *Registry) Get(ip string) (types.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	device, ok := r.devices[ip]
	if !ok {
		return types.Device{}, false
	}
	return device.Clone(), true
}

// FindByMAC returns a copy of the device with the given MAC
func (r *Registry) FindByMAC(mac string) (types.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, device := range r.devices {
		if device.MAC == mac {
			return device.Clone(), true
		}
	}
	return types.Device{}, false
}

// List returns copies of all devices ordered by address
func (r *Registry) List() []types.Device {
	r.mu.RLock()
	devices := make([]types.Device, 0, len(r.devices))
	for _, device := range r.devices {
		devices = append(devices, device.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(devices, func(i, j int) bool {
		return compareIP(devices[i].IP, devices[j].IP) < 0
	})
	return devices
}

// Len returns the number of devices
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Update applies fn to the device at ip under the lock. fn must not block.
func (r *Registry) Update(ip string, fn func(device *types.Device)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	device, ok := r.devices[ip]
	if !ok {
		return types.NewError(types.KindDeviceNotFound, "update", ip, nil)
	}
	fn(device)
	// the key is immutable through Update
	device.IP = ip
	return nil
}

// UpdateAll applies fn to every device under the lock
func (r *Registry) UpdateAll(fn func(device *types.Device)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for ip, device := range r.devices {
		fn(device)
		device.IP = ip
	}
}

// MarkInactive flags active devices whose last sighting is older than window
// and returns their addresses
func (r *Registry) MarkInactive(now time.Time, window time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var changed []string
	for ip, device := range r.devices {
		if device.Status == types.StatusActive && now.Sub(device.LastSeen) > window {
			device.Status = types.StatusInactive
			device.CurrentSpeed = types.Speed{}
			changed = append(changed, ip)
		}
	}
	sort.Strings(changed)
	return changed
}

// Expired returns inactive devices unseen for longer than idle
func (r *Registry) Expired(now time.Time, idle time.Duration) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var expired []string
	for ip, device := range r.devices {
		if isExpired(device, now, idle) {
			expired = append(expired, ip)
		}
	}
	sort.Strings(expired)
	return expired
}

// Prune removes ip if it is still expired. A device sighted again since
// Expired was called is kept.
func (r *Registry) Prune(ip string, now time.Time, idle time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	device, ok := r.devices[ip]
	if !ok || !isExpired(device, now, idle) {
		return false
	}
	delete(r.devices, ip)
	return true
}

// Delete removes ip unconditionally
func (r *Registry) Delete(ip string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[ip]; !ok {
		return false
	}
	delete(r.devices, ip)
	return true
}

func isExpired(device *types.Device, now time.Time, idle time.Duration) bool {
	return device.Status == types.StatusInactive && now.Sub(device.LastSeen) > idle
}

func compareIP(a, b string) int {
	ipA, ipB := net.ParseIP(a), net.ParseIP(b)
	if ipA == nil || ipB == nil {
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
		return 0
	}
	return bytes.Compare(ipA.To16(), ipB.To16())
}
