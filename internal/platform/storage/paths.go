package storage

import (
	"fmt"
	"strings"
)

// ArchiveObjectPath returns orders/<orderID>/v<version>.json.
func ArchiveObjectPath(orderID string, version int64) (string, error) {
	id, err := validateSegment("orderID", orderID)
	if err != nil {
		return "", err
	}
	if version <= 0 {
		return "", fmt.Errorf("storage: version must be positive, got %d", version)
	}
	return fmt.Sprintf("orders/%s/v%d.json", id, version), nil
}

func validateSegment(name, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(trimmed, "/\\") || trimmed == "." || trimmed == ".." {
		return "", fmt.Errorf("storage: %s contains invalid characters", name)
	}
	return trimmed, nil
}
