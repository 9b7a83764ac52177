package types

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"
)

// DeviceStatus is the liveness state of a device
type DeviceStatus int

const (
	StatusActive DeviceStatus = iota
	StatusInactive
)

func (s DeviceStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusInactive:
		return "inactive"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the status by name
func (s DeviceStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// AttackStatus is the spoofing state this host holds against a device
type AttackStatus int

const (
	AttackNone AttackStatus = iota
	AttackCutting
)

func (a AttackStatus) String() string {
	switch a {
	case AttackNone:
		return "none"
	case AttackCutting:
		return "cutting"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the attack status by name
func (a AttackStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// LimitMode records which mechanism enforces a device speed limit
type LimitMode string

const (
	LimitNone     LimitMode = ""
	LimitNative   LimitMode = "native"
	LimitSoftware LimitMode = "software"
)

// Speed is an observed throughput in bits per second
type Speed struct {
	Upload   uint64 `json:"upload"`
	Download uint64 `json:"download"`
}

// Total returns upload plus download
func (s Speed) Total() uint64 {
	return s.Upload + s.Download
}

// Device is a single host seen on the segment, keyed by IP
type Device struct {
	IP           string       `json:"ip"`
	MAC          string       `json:"mac"`
	Hostname     string       `json:"hostname,omitempty"`
	Vendor       string       `json:"vendor,omitempty"`
	DeviceType   string       `json:"device_type,omitempty"`
	Name         string       `json:"name,omitempty"`
	Status       DeviceStatus `json:"status"`
	CurrentSpeed Speed        `json:"current_speed"`
	SpeedLimit   *uint64      `json:"speed_limit,omitempty"`
	LimitMode    LimitMode    `json:"limit_mode,omitempty"`
	IsProtected  bool         `json:"is_protected"`
	AttackStatus AttackStatus `json:"attack_status"`
	FirstSeen    time.Time    `json:"first_seen"`
	LastSeen     time.Time    `json:"last_seen"`
}

// Clone returns a deep copy of the device
func (d *Device) Clone() Device {
	c := *d
	if d.SpeedLimit != nil {
		limit := *d.SpeedLimit
		c.SpeedLimit = &limit
	}
	return c
}

// DisplayName returns the operator name, hostname or IP, in that order
func (d *Device) DisplayName() string {
	switch {
	case d.Name != "":
		return d.Name
	case d.Hostname != "":
		return d.Hostname
	default:
		return d.IP
	}
}

// HardwareAddr parses the stored MAC
func (d *Device) HardwareAddr() (net.HardwareAddr, error) {
	return net.ParseMAC(d.MAC)
}

// Status is the control state reported for a device
type Status struct {
	IP           string       `json:"ip"`
	IsProtected  bool         `json:"is_protected"`
	AttackStatus AttackStatus `json:"attack_status"`
	IsBlocked    bool         `json:"is_blocked"`
}

// StatusOf derives the control state of a device
func StatusOf(d *Device) Status {
	return Status{
		IP:           d.IP,
		IsProtected:  d.IsProtected,
		AttackStatus: d.AttackStatus,
		IsBlocked:    d.AttackStatus == AttackCutting,
	}
}

// Summary aggregates the registry for reporting
type Summary struct {
	TotalDevices   int            `json:"total_devices"`
	ActiveDevices  int            `json:"active_devices"`
	Protected      int            `json:"protected"`
	Cutting        int            `json:"cutting"`
	Limited        int            `json:"limited"`
	DeviceTypes    map[string]int `json:"device_types"`
	TotalBandwidth uint64         `json:"total_bandwidth"`
}

// NormalizeMAC returns the canonical uppercase colon-hex form of a hardware address
func NormalizeMAC(mac net.HardwareAddr) string {
	return strings.ToUpper(mac.String())
}

// ParseMAC parses and normalizes a textual hardware address.
// Windows style dashes are accepted.
func ParseMAC(s string) (string, error) {
	hw, err := net.ParseMAC(strings.ReplaceAll(strings.TrimSpace(s), "-", ":"))
	if err != nil {
		return "", err
	}
	if len(hw) != 6 {
		return "", fmt.Errorf("unsupported hardware address length %d", len(hw))
	}
	return NormalizeMAC(hw), nil
}

// IsUsableMAC reports whether a neighbor hardware address identifies a real host
func IsUsableMAC(mac net.HardwareAddr) bool {
	if len(mac) != 6 {
		return false
	}
	zero, broadcast := true, true
	for _, b := range mac {
		if b != 0x00 {
			zero = false
		}
		if b != 0xff {
			broadcast = false
		}
	}
	if zero || broadcast {
		return false
	}
	// multicast bit
	return mac[0]&0x01 == 0
}
