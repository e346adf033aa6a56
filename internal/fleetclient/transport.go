// Package fleetclient implements the fleet-control protocol client
// named in spec.md §2/§4.6: reporting effective config/health/version
// upstream and receiving remote-config pushes, behind the narrow
// "trait-shaped client" capability interface spec.md §9 calls for.
// Grounded on the prior config-store package's HTTP usage patterns
// (plain *http.Client, context-scoped calls, fmt.Errorf-wrapped
// failures), since there is no upstream-protocol client of its own to
// adapt from more directly.
package fleetclient

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
)

// ProxyConfig configures the outbound HTTP proxy shared by the
// fleet-control client and the key-server client, per SPEC_FULL.md's
// SUPPLEMENTED FEATURES section.
type ProxyConfig struct {
	URL               string
	CABundleFile      string
	CABundleDir       string
	IgnoreSystemProxy bool
}

// NewTransport resolves cfg once at startup into an *http.Transport
// shared by every HTTP client this process makes outbound calls with.
func NewTransport(cfg ProxyConfig) (*http.Transport, error) {
	transport := http.Transport{}

	switch {
	case cfg.URL != "":
		proxyURL, err := url.Parse(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing proxy.url %q: %w", cfg.URL, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	case cfg.IgnoreSystemProxy:
		transport.Proxy = nil
	default:
		transport.Proxy = http.ProxyFromEnvironment
	}

	pool, err := loadCABundles(cfg)
	if err != nil {
		return nil, err
	}
	if pool != nil {
		transport.TLSClientConfig = &tls.Config{RootCAs: pool}
	}

	return &transport, nil
}

func loadCABundles(cfg ProxyConfig) (*x509.CertPool, error) {
	if cfg.CABundleFile == "" && cfg.CABundleDir == "" {
		return nil, nil
	}

	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}

	if cfg.CABundleFile != "" {
		if err := addCertFile(pool, cfg.CABundleFile); err != nil {
			return nil, err
		}
	}
	if cfg.CABundleDir != "" {
		entries, err := os.ReadDir(cfg.CABundleDir)
		if err != nil {
			return nil, fmt.Errorf("reading proxy.ca_bundle_dir %s: %w", cfg.CABundleDir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if err := addCertFile(pool, filepath.Join(cfg.CABundleDir, entry.Name())); err != nil {
				return nil, err
			}
		}
	}
	return pool, nil
}

func addCertFile(pool *x509.CertPool, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading CA bundle %s: %w", path, err)
	}
	if !pool.AppendCertsFromPEM(data) {
		return fmt.Errorf("no valid certificates found in %s", path)
	}
	return nil
}
