package download

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strings"
)

// ErrBlockedURL — URL запрещён политикой исходящих запросов.
var ErrBlockedURL = errors.New("URL запрещён политикой исходящих запросов")

// blockedPrefixes — приватные, loopback и link-local диапазоны IPv4.
// 169.254.0.0/16 покрывает адрес метаданных облака 169.254.169.254.
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("169.254.0.0/16"),
}

var blockedAddrs = []netip.Addr{
	netip.MustParseAddr("0.0.0.0"),
	netip.MustParseAddr("::1"),
	netip.MustParseAddr("169.254.169.254"),
}

// CheckURL применяет политику до любого сетевого обращения к кандидату.
// Имена хостов, не являющиеся IP-литералами, считаются публичными.
func CheckURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: некорректный URL: %v", ErrBlockedURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("%w: схема %q", ErrBlockedURL, u.Scheme)
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return fmt.Errorf("%w: пустой хост", ErrBlockedURL)
	}
	if host == "localhost" {
		return fmt.Errorf("%w: localhost", ErrBlockedURL)
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return nil
	}
	addr = addr.Unmap()
	for _, b := range blockedAddrs {
		if addr == b {
			return fmt.Errorf("%w: адрес %s", ErrBlockedURL, addr)
		}
	}
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return fmt.Errorf("%w: адрес %s в диапазоне %s", ErrBlockedURL, addr, p)
		}
	}
	return nil
}
