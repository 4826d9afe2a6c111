package probe

import (
	"context"
	"net"
	"net/netip"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

const (
	protocolICMP     = 1
	protocolIPv6ICMP = 58
)

type icmpEchoer struct {
	privileged  bool
	payloadSize int
}

func newICMPEchoer(config Config) *icmpEchoer {
	payloadSize := config.PayloadSize
	if payloadSize <= 0 {
		payloadSize = DefaultPayloadSize
	}
	return &icmpEchoer{
		privileged:  config.Privileged,
		payloadSize: payloadSize,
	}
}

func (e *icmpEchoer) listen(addr netip.Addr) (*icmp.PacketConn, error) {
	network, laddr := "udp4", "0.0.0.0"
	switch {
	case addr.Is4() && e.privileged:
		network = "ip4:icmp"
	case addr.Is6() && e.privileged:
		network, laddr = "ip6:ipv6-icmp", "::"
	case addr.Is6():
		network, laddr = "udp6", "::"
	}

	conn, err := icmp.ListenPacket(network, laddr)
	if err != nil {
		return nil, errors.Wrapf(err, "Could not open %s socket", network)
	}
	return conn, nil
}

func (e *icmpEchoer) destination(addr netip.Addr) net.Addr {
	ip := net.IP(addr.AsSlice())
	if e.privileged {
		return &net.IPAddr{IP: ip, Zone: addr.Zone()}
	}
	return &net.UDPAddr{IP: ip, Zone: addr.Zone()}
}

func (e *icmpEchoer) Echo(ctx context.Context, req EchoRequest, timeout time.Duration) (time.Duration, bool, error) {
	addr := req.Target.Addr.Unmap()
	if !addr.IsValid() {
		return 0, false, ErrInvalidAddress
	}

	var requestType, replyType icmp.Type = ipv4.ICMPTypeEcho, ipv4.ICMPTypeEchoReply
	proto := protocolICMP
	if addr.Is6() {
		requestType, replyType = ipv6.ICMPTypeEchoRequest, ipv6.ICMPTypeEchoReply
		proto = protocolIPv6ICMP
	}

	conn, err := e.listen(addr)
	if err != nil {
		return 0, false, errors.Wrap(ErrEchoFailed, err.Error())
	}
	defer conn.Close()

	// Unblock the read below as soon as the caller gives up.
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	msg, err := (&icmp.Message{
		Type: requestType,
		Code: 0,
		Body: &icmp.Echo{
			ID:   int(req.ID),
			Seq:  int(req.Sequence),
			Data: make([]byte, e.payloadSize),
		},
	}).Marshal(nil)
	if err != nil {
		return 0, false, errors.Wrap(err, "Could not encode echo request")
	}

	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return 0, false, errors.Wrap(err, "Could not set read deadline")
	}

	start := time.Now()
	if _, err := conn.WriteTo(msg, e.destination(addr)); err != nil {
		return 0, false, errors.Wrap(ErrEchoFailed, err.Error())
	}

	buf := make([]byte, 1500)
	for {
		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return 0, false, ctx.Err()
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return 0, false, nil
			}
			return 0, false, errors.Wrap(ErrEchoFailed, err.Error())
		}
		rtt := time.Since(start)

		reply, err := icmp.ParseMessage(proto, buf[:n])
		if err != nil || reply.Type != replyType {
			continue
		}
		echo, ok := reply.Body.(*icmp.Echo)
		if !ok || !e.matches(req, addr, peer, echo) {
			continue
		}
		return rtt, true, nil
	}
}

// matches reports whether echo answers req. Datagram ICMP sockets have the
// identifier rewritten by the kernel, so only raw sockets compare it.
func (e *icmpEchoer) matches(req EchoRequest, addr netip.Addr, peer net.Addr, echo *icmp.Echo) bool {
	if echo.Seq != int(req.Sequence) {
		return false
	}
	if e.privileged && echo.ID != int(req.ID) {
		return false
	}

	var ip net.IP
	switch v := peer.(type) {
	case *net.IPAddr:
		ip = v.IP
	case *net.UDPAddr:
		ip = v.IP
	default:
		return false
	}
	peerAddr, ok := netip.AddrFromSlice(ip)
	return ok && peerAddr.Unmap() == addr.WithZone("")
}
