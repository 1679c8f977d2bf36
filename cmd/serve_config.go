package cmd

import (
	"fmt"
	"log"
	"net"
	"net/url"
	"os"
	"strings"
)

// Transport type constants for the gateway.
const (
	transportStdio          = "stdio"
	transportSSE            = "sse"
	transportStreamableHTTP = "streamable-http"
	transportHTTP           = "http"
)

// ServeConfig holds all configuration for the serve command. Flags fill it;
// environment variables back any flag the user left empty.
type ServeConfig struct {
	// Transport selects how clients reach the gateway. "stdio" serves a
	// single client on standard input/output; "http", "sse", and
	// "streamable-http" all start the HTTP server, which carries every
	// HTTP-based transport plus the admin API.
	Transport string
	HTTPAddr  string

	// PublicURL is the externally reachable base URL advertised in SSO
	// redirects and federation announcements. When set it must be a
	// public HTTPS URL unless AllowPrivateURLs is true.
	PublicURL        string
	AllowPrivateURLs bool

	// Logging output controls.
	LogLevel  string
	LogFormat string

	// Metrics controls the dedicated Prometheus endpoint.
	Metrics MetricsServeConfig

	// PluginsConfigFile overrides the plugins.yaml path from the
	// environment; setting it also enables the plugin framework.
	PluginsConfigFile string
}

// MetricsServeConfig holds metrics server configuration for the serve command.
type MetricsServeConfig struct {
	Enabled bool
	Addr    string
}

// Validate checks the serve configuration before any subsystem starts.
func (c *ServeConfig) Validate() error {
	switch c.Transport {
	case transportStdio, transportHTTP, transportSSE, transportStreamableHTTP:
	default:
		return fmt.Errorf("unsupported transport: %s (must be stdio, http, sse, or streamable-http)", c.Transport)
	}

	if c.Transport != transportStdio && c.HTTPAddr == "" {
		return fmt.Errorf("http address must not be empty for transport %s", c.Transport)
	}

	if c.PublicURL != "" {
		if err := validateSecureURL(c.PublicURL, "public URL", c.AllowPrivateURLs); err != nil {
			return err
		}
	}

	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("unsupported log format: %s (must be text or json)", c.LogFormat)
	}

	return nil
}

// loadEnvIfEmpty loads an environment variable into a string pointer if it's empty.
func loadEnvIfEmpty(target *string, envKey string) {
	if *target == "" {
		*target = os.Getenv(envKey)
	}
}

// validateSecureURL validates that a URL uses HTTPS and does not point back
// into the deployment's private address space. It checks for:
// - Valid URL format
// - HTTPS scheme (HTTP not allowed)
// - No private/local IP addresses (unless allowPrivate is true)
// - No localhost references
func validateSecureURL(urlStr string, fieldName string, allowPrivate bool) error {
	// Check for empty URL
	if urlStr == "" {
		return fmt.Errorf("%s must be a valid URL: empty URL provided", fieldName)
	}

	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("%s must be a valid URL: %w", fieldName, err)
	}

	// Require HTTPS
	if parsedURL.Scheme != "https" {
		if parsedURL.Scheme == "" {
			return fmt.Errorf("%s must be a valid URL with HTTPS scheme", fieldName)
		}
		return fmt.Errorf("%s must use HTTPS (got: %s)", fieldName, parsedURL.Scheme)
	}

	// Extract hostname for validation
	hostname := parsedURL.Hostname()
	if hostname == "" {
		return fmt.Errorf("%s must have a valid hostname", fieldName)
	}

	// Check for localhost references
	if strings.ToLower(hostname) == "localhost" {
		return fmt.Errorf("%s cannot use localhost", fieldName)
	}

	// Resolve hostname to IP addresses to check for private IPs
	ips, err := net.LookupIP(hostname)
	if err != nil {
		// DNS lookup failure - this could be transient or the domain doesn't exist yet
		// For development/testing purposes, we'll allow this but log a warning
		log.Printf("[WARN] Could not resolve %s (%s) to validate IP address: %v", fieldName, hostname, err)
		return nil
	}

	// Check if any resolved IP is private or loopback (unless allowPrivate is true)
	if !allowPrivate {
		for _, ip := range ips {
			if isPrivateOrLoopbackIP(ip) {
				return fmt.Errorf("%s resolves to a private or loopback IP address (%s), which could be a security risk", fieldName, ip.String())
			}
		}
	}

	return nil
}

// isPrivateOrLoopbackIP checks if an IP address is private, loopback, or link-local.
func isPrivateOrLoopbackIP(ip net.IP) bool {
	// Check for loopback
	if ip.IsLoopback() {
		return true
	}

	// Check for link-local
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}

	// Check for private IPv4 ranges
	// 10.0.0.0/8
	if ip4 := ip.To4(); ip4 != nil {
		if ip4[0] == 10 {
			return true
		}
		// 172.16.0.0/12
		if ip4[0] == 172 && ip4[1] >= 16 && ip4[1] <= 31 {
			return true
		}
		// 192.168.0.0/16
		if ip4[0] == 192 && ip4[1] == 168 {
			return true
		}
	}

	// Check for private IPv6 ranges (fc00::/7 - Unique Local Addresses)
	if len(ip) == net.IPv6len && ip[0] == 0xfc || ip[0] == 0xfd {
		return true
	}

	return false
}
