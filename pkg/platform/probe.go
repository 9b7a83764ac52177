package platform

import (
	"context"
	"net"
	"time"

	"github.com/projectdiscovery/netwarden/pkg/arp"
	"github.com/projectdiscovery/netwarden/pkg/types"
)

// probeResend is how often an unanswered probe is repeated
const probeResend = 500 * time.Millisecond

// Probe resolves the MAC of target by broadcasting ARP requests over link and
// waiting at most timeout, capped to DefaultProbeTimeout, for the reply
func Probe(ctx context.Context, link Link, srcIP, target net.IP, timeout time.Duration) (net.HardwareAddr, error) {
	if timeout <= 0 || timeout > DefaultProbeTimeout {
		timeout = DefaultProbeTimeout
	}
	request, err := arp.Request(link.HardwareAddr(), srcIP, target)
	if err != nil {
		return nil, types.NewError(types.KindInvalidInput, "probe", target.String(), err)
	}

	sub := link.Subscribe(ARPOnly, 16)
	defer sub.Close()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := link.WriteFrame(request); err != nil {
		return nil, err
	}
	resend := time.NewTicker(probeResend)
	defer resend.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, types.NewError(types.KindTimeout, "probe", target.String(), ctx.Err())
		case <-resend.C:
			_ = link.WriteFrame(request)
		case packet, ok := <-sub.Packets():
			if !ok {
				return nil, types.NewError(types.KindTimeout, "probe", target.String(), nil)
			}
			reply, err := arp.FromPacket(packet)
			if err != nil || !reply.IsReply() || !reply.SenderIP.Equal(target) {
				continue
			}
			if !types.IsUsableMAC(reply.SenderMAC) {
				continue
			}
			return reply.SenderMAC, nil
		}
	}
}
