// Package proxy resolves which proxy, if any, applies to a retrieval.
package proxy

import (
	"strings"

	"github.com/Tamillat/wget/internal/config"
)

// Resolver maps URL schemes to configured proxy URLs and applies the
// no-proxy host exclusion list.
type Resolver struct {
	http    string
	https   string
	ftp     string
	noProxy []string
}

// NewResolver builds a resolver from configuration. Exclusion entries are
// matched case-insensitively against the host or any parent domain.
func NewResolver(cfg config.ProxyConfig) *Resolver {
	exclusions := make([]string, 0, len(cfg.NoProxy))
	for _, raw := range cfg.NoProxy {
		host := strings.ToLower(strings.TrimSpace(raw))
		host = strings.TrimPrefix(host, ".")
		if host == "" {
			continue
		}
		exclusions = append(exclusions, host)
	}
	return &Resolver{
		http:    cfg.HTTP,
		https:   cfg.HTTPS,
		ftp:     cfg.FTP,
		noProxy: exclusions,
	}
}

// ForScheme returns the proxy URL configured for the scheme, or "" when the
// scheme has no proxy.
func (r *Resolver) ForScheme(scheme string) string {
	switch strings.ToLower(scheme) {
	case "http":
		return r.http
	case "https":
		return r.https
	case "ftp":
		return r.ftp
	default:
		return ""
	}
}

// Excluded reports whether host matches the no-proxy exclusion list. An
// entry matches the host itself and every subdomain of it.
func (r *Resolver) Excluded(host string) bool {
	host = strings.ToLower(host)
	for _, pat := range r.noProxy {
		if host == pat || strings.HasSuffix(host, "."+pat) {
			return true
		}
	}
	return false
}
