package webhook

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
)

type lookupFunc func(ctx context.Context, host string) ([]netip.Addr, error)

func resolveHost(ctx context.Context, host string) ([]netip.Addr, error) {
	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	return addrs, err
}

// validateURL rejects targets that could reach internal infrastructure:
// non-http(s) schemes, plain http in production, and any hostname resolving
// to a non-globally-routable address. Checked per resolved address for both
// IPv4 and IPv6. DNS failures are logged but not blocking; the delivery
// attempt itself will surface a clearer error.
func (d *Dispatcher) validateURL(ctx context.Context, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("unsupported webhook scheme %q", u.Scheme)
	}
	if d.cfg.Production && u.Scheme != "https" {
		return fmt.Errorf("webhook URLs must use https in production")
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("webhook URL has no host")
	}
	if d.cfg.AllowPrivate {
		return nil
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if blockedAddr(addr) {
			return fmt.Errorf("blocked IP address %s", addr)
		}
		return nil
	}

	addrs, err := d.lookup(ctx, host)
	if err != nil {
		d.log.Warn("webhook DNS resolution failed", "host", host, "error", err)
		return nil
	}
	for _, addr := range addrs {
		if blockedAddr(addr) {
			return fmt.Errorf("blocked IP address %s for host %s", addr, host)
		}
	}
	return nil
}

// blockedAddr reports whether a is not globally routable: loopback, private
// (RFC 1918 and fc00::/7), link-local (169.254/16 and fe80::/10), multicast,
// and unspecified addresses are all rejected.
func blockedAddr(a netip.Addr) bool {
	a = a.Unmap()
	if !a.IsValid() || a.IsUnspecified() {
		return true
	}
	return a.IsLoopback() ||
		a.IsPrivate() ||
		a.IsLinkLocalUnicast() ||
		a.IsLinkLocalMulticast() ||
		a.IsMulticast() ||
		!a.IsGlobalUnicast()
}
