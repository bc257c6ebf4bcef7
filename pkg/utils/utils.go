package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// ComputeSHA256 computes the SHA256 hash of data
func ComputeSHA256(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// SplitResource splits a resource name such as
// organizations/acme/apis/orders/revisions/3 into its segments
func SplitResource(resource string) []string {
	return strings.Split(resource, "/")
}

// HasOrgScope reports whether resource is org itself or addressed inside it.
// Create calls name the bare organization.
func HasOrgScope(resource, org string) bool {
	if org == "" {
		return false
	}
	root := "organizations/" + org
	return resource == root || strings.HasPrefix(resource, root+"/")
}

// FormatBytes formats byte size in human-readable format
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	suffixes := []string{"B", "KB", "MB", "GB", "TB", "PB", "EB"}
	return fmt.Sprintf("%.1f %s", float64(bytes)/float64(div), suffixes[exp+1])
}
