package utils

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/likexian/whois"
)

// ValidateMXRecords checks if an address's domain has valid MX records.
// Used at launch time to drop targets that can never receive mail.
func ValidateMXRecords(email string) (bool, error) {
	parts := strings.Split(email, "@")
	if len(parts) < 2 {
		return false, fmt.Errorf("invalid email format")
	}

	domain := parts[1]
	mxRecords, err := net.LookupMX(domain)
	if err != nil {
		return false, err
	}

	return len(mxRecords) > 0, nil
}

// WhoisSummary fetches the whois record for the host of a worker URI and
// returns a trimmed excerpt. A landing domain that suddenly changes hands is
// worth surfacing in the worker health check.
func WhoisSummary(rawURI string) (string, error) {
	u, err := url.Parse(rawURI)
	if err != nil {
		return "", fmt.Errorf("invalid worker URI: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("worker URI has no host")
	}
	if ip := net.ParseIP(host); ip != nil {
		return "", nil // raw IPs have no registration to check
	}

	record, err := whois.Whois(host)
	if err != nil {
		return "", err
	}

	const maxSummary = 512
	record = strings.TrimSpace(record)
	if len(record) > maxSummary {
		record = record[:maxSummary]
	}
	return record, nil
}
