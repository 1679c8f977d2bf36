package instrumentation

import "strings"

// Cardinality management helpers for metrics.
// These functions reduce high-cardinality label values to prevent metrics explosion.
//
// # Warning
//
// High cardinality in metrics can cause:
// - Increased memory usage in Prometheus/metrics backends
// - Slower query performance
// - Higher storage costs
//
// Always use these helpers when recording metrics with user identifiers or peer
// gateway names.

// GatewayType represents a classification of peer gateway names for metrics.
type GatewayType string

// Gateway type classifications for metrics cardinality control.
const (
	// GatewayTypeProduction represents production peers.
	GatewayTypeProduction GatewayType = "production"

	// GatewayTypeStaging represents staging/pre-production peers.
	GatewayTypeStaging GatewayType = "staging"

	// GatewayTypeDevelopment represents development peers.
	GatewayTypeDevelopment GatewayType = "development"

	// GatewayTypeCICD represents CI/CD peers (e.g., cicdprod, cicddev).
	GatewayTypeCICD GatewayType = "cicd"

	// GatewayTypeOperations represents operations/infrastructure peers.
	GatewayTypeOperations GatewayType = "operations"

	// GatewayTypeSelf represents the local gateway (empty peer name).
	GatewayTypeSelf GatewayType = "self"

	// GatewayTypeOther represents peers that don't match any known pattern.
	GatewayTypeOther GatewayType = "other"
)

// ClassifyGatewayName classifies a peer gateway name into a type for metrics.
// This prevents cardinality explosion in large federations by grouping peers
// into categories instead of using the full peer name.
//
// The function uses case-insensitive pattern matching over common environment
// naming conventions (prod-, staging-, dev-, test-, cicd, ops). Organizations
// using different conventions (e.g., "live-", "prd-", "uat-") will see those
// peers classified as "other".
//
// # Examples
//
//	ClassifyGatewayName("")               // "self"
//	ClassifyGatewayName("prod-eu-01")     // "production"
//	ClassifyGatewayName("staging-gw")     // "staging"
//	ClassifyGatewayName("dev-gateway")    // "development"
//	ClassifyGatewayName("cicdprod")       // "cicd"
//	ClassifyGatewayName("infra-ops")      // "operations"
//	ClassifyGatewayName("partner-hub")    // "other"
func ClassifyGatewayName(name string) string {
	if name == "" {
		return string(GatewayTypeSelf)
	}

	nameLower := strings.ToLower(name)

	// CI/CD patterns (check first as they often contain "prod" or "dev" in the name)
	if strings.Contains(nameLower, "cicd") {
		return string(GatewayTypeCICD)
	}

	// Operations patterns
	if strings.Contains(nameLower, "operations") ||
		strings.HasPrefix(nameLower, "ops-") ||
		strings.HasPrefix(nameLower, "ops_") ||
		strings.Contains(nameLower, "-ops-") ||
		strings.HasSuffix(nameLower, "-ops") {
		return string(GatewayTypeOperations)
	}

	// Production patterns
	if strings.HasPrefix(nameLower, "prod-") ||
		strings.HasPrefix(nameLower, "prod_") ||
		strings.Contains(nameLower, "production") ||
		strings.Contains(nameLower, "-prod-") ||
		strings.HasSuffix(nameLower, "-prod") {
		return string(GatewayTypeProduction)
	}

	// Staging patterns
	if strings.HasPrefix(nameLower, "staging-") ||
		strings.HasPrefix(nameLower, "staging_") ||
		strings.HasPrefix(nameLower, "stg-") ||
		strings.Contains(nameLower, "staging") ||
		strings.Contains(nameLower, "-stg-") ||
		strings.HasSuffix(nameLower, "-stg") {
		return string(GatewayTypeStaging)
	}

	// Development patterns (including demo and test peers)
	if strings.HasPrefix(nameLower, "dev-") ||
		strings.HasPrefix(nameLower, "dev_") ||
		strings.Contains(nameLower, "development") ||
		strings.Contains(nameLower, "-dev-") ||
		strings.HasSuffix(nameLower, "-dev") ||
		strings.HasPrefix(nameLower, "demo") ||
		strings.Contains(nameLower, "-demo-") ||
		strings.HasPrefix(nameLower, "test-") ||
		strings.HasPrefix(nameLower, "test_") ||
		strings.Contains(nameLower, "-test-") ||
		strings.HasSuffix(nameLower, "-test") {
		return string(GatewayTypeDevelopment)
	}

	return string(GatewayTypeOther)
}

// ExtractUserDomain extracts the domain part from an email address.
// This reduces cardinality by using the domain instead of the full email.
//
// Example:
//
//	ExtractUserDomain("jane@giantswarm.io")  // "giantswarm.io"
//	ExtractUserDomain("user@example.com")   // "example.com"
//	ExtractUserDomain("invalid")            // "unknown"
//	ExtractUserDomain("")                   // "unknown"
func ExtractUserDomain(email string) string {
	if email == "" {
		return "unknown"
	}

	parts := strings.Split(email, "@")
	if len(parts) == 2 && parts[1] != "" {
		return parts[1]
	}

	return "unknown"
}
