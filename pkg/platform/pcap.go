package platform

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/netwarden/pkg/types"
	osutils "github.com/projectdiscovery/utils/os"
)

const (
	// DefaultSnapLen is the capture snapshot length
	DefaultSnapLen = 1600
	// DefaultPromisc captures transit frames addressed to other hosts
	DefaultPromisc = true
	// DefaultReadTimeout keeps the capture loop responsive to Close
	DefaultReadTimeout = 100 * time.Millisecond
	// captureFilter limits the kernel copy to what the engine decodes
	captureFilter = "arp or ip"
)

type pcapLink struct {
	handle   *pcap.Handle
	mac      net.HardwareAddr
	linkType layers.LinkType
	fanout   *Fanout

	writeMu sync.Mutex
	closing chan struct{}
	done    chan struct{}
	once    sync.Once
}

func openPcapLink(iface *types.Interface) (Link, error) {
	device := pcapDeviceName(iface)
	handle, err := pcap.OpenLive(device, DefaultSnapLen, DefaultPromisc, DefaultReadTimeout)
	if err != nil {
		if isPermissionError(err) {
			return nil, types.NewError(types.KindPermissionDenied, "open link", iface.Name, err)
		}
		return nil, types.NewError(types.KindInterfaceNotFound, "open link", iface.Name, err)
	}
	if err := handle.SetBPFFilter(captureFilter); err != nil {
		gologger.Warning().Msgf("could not set capture filter on %s: %s", iface.Name, err)
	}

	link := &pcapLink{
		handle:   handle,
		mac:      iface.HardwareAddr,
		linkType: handle.LinkType(),
		fanout:   NewFanout(),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	go link.capture()
	return link, nil
}

// pcapDeviceName maps an OS interface to its capture device. On Windows the
// capture device is an NPF path, matched through its addresses.
func pcapDeviceName(iface *types.Interface) string {
	if osutils.IsLinux() || osutils.IsOSX() {
		return iface.Name
	}
	devices, err := pcap.FindAllDevs()
	if err != nil {
		return iface.Name
	}
	for _, device := range devices {
		if device.Name == iface.Name {
			return device.Name
		}
	}
	for _, device := range devices {
		for _, addr := range device.Addresses {
			if addr.IP.Equal(iface.IP) {
				return device.Name
			}
		}
	}
	return iface.Name
}

func isPermissionError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"permission", "operation not permitted", "access denied"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func (l *pcapLink) capture() {
	defer close(l.done)

	for {
		select {
		case <-l.closing:
			return
		default:
		}

		data, ci, err := l.handle.ReadPacketData()
		switch {
		case err == nil:
		case errors.Is(err, pcap.NextErrorTimeoutExpired):
			continue
		case errors.Is(err, io.EOF):
			return
		default:
			select {
			case <-l.closing:
				return
			case <-time.After(10 * time.Millisecond):
			}
			continue
		}

		packet := gopacket.NewPacket(data, l.linkType, gopacket.DecodeOptions{Lazy: true})
		packet.Metadata().CaptureInfo = ci
		l.fanout.Publish(packet)
	}
}

func (l *pcapLink) WriteFrame(frame []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	select {
	case <-l.closing:
		return fmt.Errorf("link closed")
	default:
	}
	return l.handle.WritePacketData(frame)
}

func (l *pcapLink) Subscribe(filter Filter, buffer int) *Subscription {
	return l.fanout.Subscribe(filter, buffer)
}

func (l *pcapLink) HardwareAddr() net.HardwareAddr {
	return l.mac
}

func (l *pcapLink) Close() error {
	l.once.Do(func() {
		l.writeMu.Lock()
		close(l.closing)
		l.writeMu.Unlock()

		<-l.done
		l.fanout.Close()
		l.handle.Close()
	})
	return nil
}
