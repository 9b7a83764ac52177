package arp

import (
	"errors"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Operation codes
const (
	OpRequest = layers.ARPRequest
	OpReply   = layers.ARPReply
)

// Broadcast is the Ethernet broadcast address
var Broadcast = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// ErrNotARP is returned when a frame carries no ARP layer
var ErrNotARP = errors.New("frame is not an ARP packet")

// Packet is a decoded Ethernet/ARP frame
type Packet struct {
	Operation uint16
	EthSrc    net.HardwareAddr
	EthDst    net.HardwareAddr
	SenderMAC net.HardwareAddr
	SenderIP  net.IP
	TargetMAC net.HardwareAddr
	TargetIP  net.IP
}

// IsReply reports whether the packet is an ARP reply
func (p *Packet) IsReply() bool {
	return p.Operation == OpReply
}

// Frame describes an outgoing ARP frame.
// EthSrc defaults to SenderMAC and EthDst to broadcast.
type Frame struct {
	Operation uint16
	EthSrc    net.HardwareAddr
	EthDst    net.HardwareAddr
	SenderMAC net.HardwareAddr
	SenderIP  net.IP
	TargetMAC net.HardwareAddr
	TargetIP  net.IP
}

// Encode serializes the frame to wire bytes
func (f Frame) Encode() ([]byte, error) {
	senderIP := f.SenderIP.To4()
	targetIP := f.TargetIP.To4()
	if senderIP == nil || targetIP == nil {
		return nil, fmt.Errorf("arp frame requires IPv4 addresses")
	}
	if len(f.SenderMAC) != 6 {
		return nil, fmt.Errorf("invalid sender hardware address %q", f.SenderMAC)
	}

	ethSrc := f.EthSrc
	if ethSrc == nil {
		ethSrc = f.SenderMAC
	}
	ethDst := f.EthDst
	if ethDst == nil {
		ethDst = Broadcast
	}
	targetMAC := f.TargetMAC
	if targetMAC == nil {
		targetMAC = make(net.HardwareAddr, 6)
	}

	eth := &layers.Ethernet{
		SrcMAC:       ethSrc,
		DstMAC:       ethDst,
		EthernetType: layers.EthernetTypeARP,
	}
	payload := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         f.Operation,
		SourceHwAddress:   []byte(f.SenderMAC),
		SourceProtAddress: []byte(senderIP),
		DstHwAddress:      []byte(targetMAC),
		DstProtAddress:    []byte(targetIP),
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, payload); err != nil {
		return nil, fmt.Errorf("failed to serialize arp frame: %w", err)
	}
	return buf.Bytes(), nil
}

// Request builds a broadcast who-has frame for targetIP
func Request(srcMAC net.HardwareAddr, srcIP, targetIP net.IP) ([]byte, error) {
	return Frame{
		Operation: OpRequest,
		SenderMAC: srcMAC,
		SenderIP:  srcIP,
		TargetIP:  targetIP,
	}.Encode()
}

// Reply builds a unicast is-at frame telling dstMAC/dstIP that claimIP is at
// claimMAC. The Ethernet source is always ethSrc, the sending host's own
// address, regardless of the mapping being claimed.
func Reply(ethSrc net.HardwareAddr, claimIP net.IP, claimMAC net.HardwareAddr, dstIP net.IP, dstMAC net.HardwareAddr) ([]byte, error) {
	return Frame{
		Operation: OpReply,
		EthSrc:    ethSrc,
		EthDst:    dstMAC,
		SenderMAC: claimMAC,
		SenderIP:  claimIP,
		TargetMAC: dstMAC,
		TargetIP:  dstIP,
	}.Encode()
}

// Decode parses an Ethernet frame carrying ARP
func Decode(data []byte) (*Packet, error) {
	packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	return FromPacket(packet)
}

// FromPacket extracts ARP fields from an already decoded packet
func FromPacket(packet gopacket.Packet) (*Packet, error) {
	arpLayer := packet.Layer(layers.LayerTypeARP)
	if arpLayer == nil {
		return nil, ErrNotARP
	}
	a, ok := arpLayer.(*layers.ARP)
	if !ok || a.Protocol != layers.EthernetTypeIPv4 || len(a.SourceProtAddress) != 4 || len(a.DstProtAddress) != 4 {
		return nil, ErrNotARP
	}

	p := &Packet{
		Operation: a.Operation,
		SenderMAC: cloneMAC(a.SourceHwAddress),
		SenderIP:  cloneIP(a.SourceProtAddress),
		TargetMAC: cloneMAC(a.DstHwAddress),
		TargetIP:  cloneIP(a.DstProtAddress),
	}
	if ethLayer := packet.Layer(layers.LayerTypeEthernet); ethLayer != nil {
		if eth, ok := ethLayer.(*layers.Ethernet); ok {
			p.EthSrc = cloneMAC(eth.SrcMAC)
			p.EthDst = cloneMAC(eth.DstMAC)
		}
	}
	return p, nil
}

func cloneMAC(b []byte) net.HardwareAddr {
	out := make(net.HardwareAddr, len(b))
	copy(out, b)
	return out
}

func cloneIP(b []byte) net.IP {
	out := make(net.IP, len(b))
	copy(out, b)
	return out
}
