package instrumentation

import "testing"

func TestClassifyGatewayName(t *testing.T) {
	tests := []struct {
		name     string
		peer     string
		expected string
	}{
		{"empty is self", "", "self"},
		{"prod prefix", "prod-eu-01", "production"},
		{"prod suffix", "gateway-prod", "production"},
		{"production substring", "my-production-env", "production"},
		{"staging prefix", "staging-gw", "staging"},
		{"stg prefix", "stg-gw-01", "staging"},
		{"stg suffix", "gateway-stg", "staging"},
		{"dev prefix", "dev-gateway", "development"},
		{"dev suffix", "gateway-dev", "development"},
		{"demo prefix", "demo-hub", "development"},
		{"test prefix", "test-gw-01", "development"},
		{"test suffix", "gateway-test", "development"},
		{"cicd wins over prod", "cicdprod", "cicd"},
		{"cicd wins over dev", "cicddev", "cicd"},
		{"operations", "operations", "operations"},
		{"ops suffix", "infra-ops", "operations"},
		{"unknown convention", "partner-hub", "other"},
		{"region name", "us-east-1-gw", "other"},
		{"case insensitive", "PROD-EU-01", "production"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyGatewayName(tt.peer); got != tt.expected {
				t.Errorf("ClassifyGatewayName(%q) = %q, want %q", tt.peer, got, tt.expected)
			}
		})
	}
}

func TestExtractUserDomain(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		expected string
	}{
		{"valid email", "jane@giantswarm.io", "giantswarm.io"},
		{"another domain", "user@example.com", "example.com"},
		{"no at sign", "invalid", "unknown"},
		{"empty", "", "unknown"},
		{"trailing at", "user@", "unknown"},
		{"multiple at signs", "a@b@c", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractUserDomain(tt.email); got != tt.expected {
				t.Errorf("ExtractUserDomain(%q) = %q, want %q", tt.email, got, tt.expected)
			}
		})
	}
}
