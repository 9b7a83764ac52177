//go:build linux

package platform

import (
	"encoding/binary"
	"errors"
	"net"

	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/netwarden/pkg/types"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netlink/nl"
	"golang.org/x/sys/unix"
)

// HTB layout: root qdisc 1:, parent class 1:1, unclassified traffic in 1:30,
// one class per shaped device below 1:1
const (
	htbMajor       = 1
	htbParentMinor = 1
	htbDefaultMin  = 0x30
	htbLinkRate    = 1_000_000_000
	u32Priority    = 1
	u32OffsetSrc   = 12
	u32OffsetDst   = 16
)

// classMinor maps a device to its HTB class. Sweeps cover at most a /22, so
// the low ten bits are unique per device.
func classMinor(ip net.IP) uint16 {
	ip4 := ip.To4()
	return 0x100 + (uint16(ip4[2]&0x03)<<8 | uint16(ip4[3]))
}

func applyRateLimit(iface *types.Interface, ip net.IP, bps uint64) error {
	link, err := netlink.LinkByName(iface.Name)
	if err != nil {
		return types.NewError(types.KindInterfaceNotFound, "rate limit", iface.Name, err)
	}
	if err := ensureHTBRoot(link); err != nil {
		return shapingError(ip, err)
	}

	classID := netlink.MakeHandle(htbMajor, classMinor(ip))
	class := netlink.NewHtbClass(netlink.ClassAttrs{
		LinkIndex: link.Attrs().Index,
		Parent:    netlink.MakeHandle(htbMajor, htbParentMinor),
		Handle:    classID,
	}, netlink.HtbClassAttrs{
		Rate: bps,
		Ceil: bps,
	})
	if err := netlink.ClassReplace(class); err != nil {
		return shapingError(ip, err)
	}

	if err := deleteU32Filters(link, classID); err != nil {
		return shapingError(ip, err)
	}
	for _, offset := range []int32{u32OffsetSrc, u32OffsetDst} {
		if err := netlink.FilterAdd(newU32Filter(link, ip, offset, classID)); err != nil {
			return shapingError(ip, err)
		}
	}
	gologger.Verbose().Msgf("shaping %s to %d bit/s via class 1:%x on %s", ip, bps, classMinor(ip), iface.Name)
	return nil
}

func removeRateLimit(iface *types.Interface, ip net.IP) error {
	link, err := netlink.LinkByName(iface.Name)
	if err != nil {
		return types.NewError(types.KindInterfaceNotFound, "rate limit", iface.Name, err)
	}
	classID := netlink.MakeHandle(htbMajor, classMinor(ip))
	if err := deleteU32Filters(link, classID); err != nil {
		return shapingError(ip, err)
	}

	classes, err := netlink.ClassList(link, netlink.MakeHandle(htbMajor, htbParentMinor))
	if err != nil {
		return shapingError(ip, err)
	}
	for _, class := range classes {
		if class.Attrs().Handle != classID {
			continue
		}
		if err := netlink.ClassDel(class); err != nil {
			return shapingError(ip, err)
		}
	}
	return nil
}

// ensureHTBRoot installs the root qdisc and the shared classes once
func ensureHTBRoot(link netlink.Link) error {
	index := link.Attrs().Index
	rootHandle := netlink.MakeHandle(htbMajor, 0)

	qdiscs, err := netlink.QdiscList(link)
	if err != nil {
		return err
	}
	installed := false
	for _, qdisc := range qdiscs {
		attrs := qdisc.Attrs()
		if attrs.Parent == netlink.HANDLE_ROOT && attrs.Handle == rootHandle && qdisc.Type() == "htb" {
			installed = true
			break
		}
	}
	if installed {
		return nil
	}

	qdisc := netlink.NewHtb(netlink.QdiscAttrs{
		LinkIndex: index,
		Handle:    rootHandle,
		Parent:    netlink.HANDLE_ROOT,
	})
	qdisc.Defcls = htbDefaultMin
	if err := netlink.QdiscReplace(qdisc); err != nil {
		return err
	}

	for _, class := range []*netlink.HtbClass{
		netlink.NewHtbClass(netlink.ClassAttrs{
			LinkIndex: index,
			Parent:    rootHandle,
			Handle:    netlink.MakeHandle(htbMajor, htbParentMinor),
		}, netlink.HtbClassAttrs{Rate: htbLinkRate, Ceil: htbLinkRate}),
		netlink.NewHtbClass(netlink.ClassAttrs{
			LinkIndex: index,
			Parent:    netlink.MakeHandle(htbMajor, htbParentMinor),
			Handle:    netlink.MakeHandle(htbMajor, htbDefaultMin),
		}, netlink.HtbClassAttrs{Rate: htbLinkRate, Ceil: htbLinkRate}),
	} {
		if err := netlink.ClassReplace(class); err != nil {
			return err
		}
	}
	return nil
}

// newU32Filter matches the IPv4 source (offset 12) or destination (offset 16)
func newU32Filter(link netlink.Link, ip net.IP, offset int32, classID uint32) *netlink.U32 {
	return &netlink.U32{
		FilterAttrs: netlink.FilterAttrs{
			LinkIndex: link.Attrs().Index,
			Parent:    netlink.MakeHandle(htbMajor, 0),
			Priority:  u32Priority,
			Protocol:  unix.ETH_P_IP,
		},
		ClassId: classID,
		Sel: &netlink.TcU32Sel{
			Flags: nl.TC_U32_TERMINAL,
			Keys: []netlink.TcU32Key{{
				Mask: 0xffffffff,
				Val:  binary.BigEndian.Uint32(ip.To4()),
				Off:  offset,
			}},
		},
	}
}

func deleteU32Filters(link netlink.Link, classID uint32) error {
	filters, err := netlink.FilterList(link, netlink.MakeHandle(htbMajor, 0))
	if err != nil {
		return err
	}
	for _, filter := range filters {
		u32, ok := filter.(*netlink.U32)
		if !ok || u32.ClassId != classID {
			continue
		}
		if err := netlink.FilterDel(u32); err != nil {
			return err
		}
	}
	return nil
}

func shapingError(ip net.IP, err error) error {
	if errors.Is(err, unix.EPERM) || errors.Is(err, unix.EACCES) {
		return types.NewError(types.KindPermissionDenied, "rate limit", ip.String(), err)
	}
	// EOPNOTSUPP, ENOENT (sch_htb missing) and anything else the kernel
	// refuses leave the caller to fall back to software shaping
	return types.NewError(types.KindUnsupported, "rate limit", ip.String(), err)
}
