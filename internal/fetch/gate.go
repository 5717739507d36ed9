package fetch

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// validateURL is the security gate run before any network call and again on
// every redirect target. It rejects non-HTTPS schemes, file/data URIs, and
// private-network or loopback hosts given as IP literals.
func validateURL(u *url.URL, allowPrivate bool) error {
	scheme := strings.ToLower(u.Scheme)
	if scheme != "https" {
		return fmt.Errorf("disallowed scheme %q (https required)", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("missing host")
	}

	if allowPrivate {
		return nil
	}

	if strings.EqualFold(host, "localhost") || strings.HasSuffix(host, ".localhost") {
		return fmt.Errorf("disallowed host %q", host)
	}

	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
			ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return fmt.Errorf("disallowed private-network host %q", host)
		}
	}

	return nil
}
