package main

import (
	"context"
	"net"
	"net/netip"

	"github.com/pkg/errors"
)

var errNoAddresses = errors.New("No addresses found for hostname")

// newResolver returns the system resolver, or one that sends every query to
// hostResolver when it is set.
func newResolver(hostResolver *AddrPort) *net.Resolver {
	if hostResolver == nil || !hostResolver.IsValid() {
		return net.DefaultResolver
	}

	server := hostResolver.String()
	dialer := net.Dialer{}
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			return dialer.DialContext(ctx, "udp", server)
		},
	}
}

// resolveTarget turns host into an address. IP literals are returned as is;
// otherwise the first address the resolver returns is used.
func resolveTarget(ctx context.Context, resolver *net.Resolver, host string) (netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.Unmap(), nil
	}

	addrs, err := resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return netip.Addr{}, errors.Wrapf(err, "Could not resolve host %q", host)
	}
	if len(addrs) == 0 {
		return netip.Addr{}, errors.Wrapf(errNoAddresses, "%q", host)
	}

	return addrs[0].Unmap(), nil
}
