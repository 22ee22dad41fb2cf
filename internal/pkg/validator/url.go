package validator

import (
	"errors"
	"net"
	"net/url"
	"strings"
)

var blockedHosts = []string{
	"localhost", "metadata.google.internal",
	"169.254.169.254", "metadata",
}

// IsWebhookURL rejects destinations a delivery worker must never call:
// non-HTTP schemes, bare hosts, and loopback or link-local targets.
func IsWebhookURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return errors.New("invalid url format")
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("url scheme must be http or https")
	}
	if u.Host == "" {
		return errors.New("url must include a host")
	}

	host := strings.ToLower(u.Hostname())

	// Check against blocked list
	for _, blocked := range blockedHosts {
		if host == blocked {
			return errors.New("destination host not allowed")
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return errors.New("destination host not allowed")
		}
	}

	return nil
}
