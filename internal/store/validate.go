package store

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxTenantIDLength is the maximum allowed length for a tenant identifier.
// Tenant identifiers double as session directory names.
const MaxTenantIDLength = 128

var tenantIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._@+-]*$`)

// ValidateTenantID checks that a tenant identifier is non-empty, bounded and
// safe to use as a single path element.
func ValidateTenantID(id string) error {
	if id == "" {
		return fmt.Errorf("tenant identifier is empty")
	}
	if len(id) > MaxTenantIDLength {
		return fmt.Errorf("tenant identifier too long: %d chars (max %d)", len(id), MaxTenantIDLength)
	}
	if !tenantIDRe.MatchString(id) || strings.Contains(id, "..") {
		return fmt.Errorf("tenant identifier %q contains invalid characters", id)
	}
	return nil
}
