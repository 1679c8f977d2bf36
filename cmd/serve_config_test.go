package cmd

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServeConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  ServeConfig
		wantErr bool
		errMsg  string
	}{
		{
			name:    "stdio transport needs no address",
			config:  ServeConfig{Transport: transportStdio},
			wantErr: false,
		},
		{
			name:    "http transport with address",
			config:  ServeConfig{Transport: transportHTTP, HTTPAddr: ":8080"},
			wantErr: false,
		},
		{
			name:    "sse transport is accepted",
			config:  ServeConfig{Transport: transportSSE, HTTPAddr: ":8080"},
			wantErr: false,
		},
		{
			name:    "streamable-http transport is accepted",
			config:  ServeConfig{Transport: transportStreamableHTTP, HTTPAddr: ":8080"},
			wantErr: false,
		},
		{
			name:    "unknown transport fails",
			config:  ServeConfig{Transport: "websocket"},
			wantErr: true,
			errMsg:  "unsupported transport",
		},
		{
			name:    "http transport without address fails",
			config:  ServeConfig{Transport: transportHTTP},
			wantErr: true,
			errMsg:  "http address must not be empty",
		},
		{
			name: "public URL with HTTP scheme fails",
			config: ServeConfig{
				Transport: transportHTTP,
				HTTPAddr:  ":8080",
				PublicURL: "http://mcp.example.com",
			},
			wantErr: true,
			errMsg:  "must use HTTPS",
		},
		{
			name: "public URL with localhost fails",
			config: ServeConfig{
				Transport: transportHTTP,
				HTTPAddr:  ":8080",
				PublicURL: "https://localhost:8443",
			},
			wantErr: true,
			errMsg:  "cannot use localhost",
		},
		{
			name: "unknown log format fails",
			config: ServeConfig{
				Transport: transportStdio,
				LogFormat: "xml",
			},
			wantErr: true,
			errMsg:  "unsupported log format",
		},
		{
			name: "json log format is accepted",
			config: ServeConfig{
				Transport: transportStdio,
				LogFormat: "json",
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestLoadEnvIfEmpty(t *testing.T) {
	t.Setenv("TEST_GATEWAY_VALUE", "from-env")

	var target string
	loadEnvIfEmpty(&target, "TEST_GATEWAY_VALUE")
	assert.Equal(t, "from-env", target)

	// An explicitly set value wins over the environment
	target = "from-flag"
	loadEnvIfEmpty(&target, "TEST_GATEWAY_VALUE")
	assert.Equal(t, "from-flag", target)
}

func TestValidateSecureURL(t *testing.T) {
	tests := []struct {
		name         string
		url          string
		allowPrivate bool
		wantErr      bool
		errMsg       string
	}{
		{
			name:    "empty URL",
			url:     "",
			wantErr: true,
			errMsg:  "empty URL",
		},
		{
			name:    "missing scheme",
			url:     "mcp.example.com",
			wantErr: true,
			errMsg:  "HTTPS scheme",
		},
		{
			name:    "http scheme rejected",
			url:     "http://mcp.example.com",
			wantErr: true,
			errMsg:  "must use HTTPS",
		},
		{
			name:    "localhost rejected",
			url:     "https://localhost",
			wantErr: true,
			errMsg:  "cannot use localhost",
		},
		{
			name:         "loopback IP allowed when private allowed",
			url:          "https://127.0.0.1:8443",
			allowPrivate: true,
			wantErr:      false,
		},
		{
			name:    "loopback IP rejected by default",
			url:     "https://127.0.0.1:8443",
			wantErr: true,
			errMsg:  "private or loopback",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateSecureURL(tt.url, "public URL", tt.allowPrivate)
			if tt.wantErr {
				assert.Error(t, err)
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestIsPrivateOrLoopbackIP(t *testing.T) {
	tests := []struct {
		ip      string
		private bool
	}{
		{"127.0.0.1", true},
		{"10.1.2.3", true},
		{"172.16.0.1", true},
		{"172.31.255.255", true},
		{"192.168.1.1", true},
		{"fd00::1", true},
		{"8.8.8.8", false},
		{"172.32.0.1", false},
		{"2001:4860:4860::8888", false},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			ip := net.ParseIP(tt.ip)
			assert.NotNil(t, ip)
			assert.Equal(t, tt.private, isPrivateOrLoopbackIP(ip))
		})
	}
}
