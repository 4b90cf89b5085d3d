// Package netinfo answers the two network questions the welcome screen asks:
// which LAN address the frame has and whether it can reach the internet.
package netinfo

import (
	"context"
	"errors"
	"net"
	"time"

	ping "github.com/go-ping/ping"
)

// FallbackIP is shown when no address can be determined.
const FallbackIP = "192.168.1.xxx"

const pingTimeout = 2 * time.Second

// LocalIP returns the address of the interface that routes to probeHost.
// The UDP dial sends no packets. It falls back to the first non-loopback
// IPv4 interface address, then to FallbackIP.
func LocalIP(probeHost string) string {
	if probeHost != "" {
		if conn, err := net.Dial("udp4", net.JoinHostPort(probeHost, "80")); err == nil {
			addr, ok := conn.LocalAddr().(*net.UDPAddr)
			conn.Close()
			if ok && addr.IP.To4() != nil && !addr.IP.IsLoopback() {
				return addr.IP.String()
			}
		}
	}
	if addrs, err := net.InterfaceAddrs(); err == nil {
		if ip := firstIPv4(addrs); ip != "" {
			return ip
		}
	}
	return FallbackIP
}

func firstIPv4(addrs []net.Addr) string {
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() || ipnet.IP.IsLinkLocalUnicast() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return ""
}

// Pinger measures round trip time to a host.
type Pinger func(ctx context.Context, host string) (time.Duration, error)

// ICMP pings host once, privileged first, then over unprivileged UDP.
func ICMP(ctx context.Context, host string) (time.Duration, error) {
	rtt, err := pingOnce(ctx, host, true)
	if err == nil {
		return rtt, nil
	}
	return pingOnce(ctx, host, false)
}

func pingOnce(ctx context.Context, host string, privileged bool) (time.Duration, error) {
	pinger, err := ping.NewPinger(host)
	if err != nil {
		return 0, err
	}
	pinger.SetPrivileged(privileged)
	pinger.Count = 1
	pinger.Timeout = pingTimeout

	stop := context.AfterFunc(ctx, pinger.Stop)
	defer stop()
	if err := pinger.Run(); err != nil {
		return 0, err
	}
	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return 0, errors.New("no reply from " + host)
	}
	return stats.AvgRtt, nil
}

// Online reports whether host answers a ping.
func Online(ctx context.Context, p Pinger, host string) bool {
	if p == nil || host == "" {
		return false
	}
	_, err := p(ctx, host)
	return err == nil
}
