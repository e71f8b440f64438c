package storage

import (
	"errors"

	"github.com/hanko-field/order-engine/internal/platform/auth"
)

// ErrPermissionDenied is returned when the caller may not read an archive.
var ErrPermissionDenied = errors.New("storage: permission denied")

// AuthorizeArchiveDownload allows staff and the customer owning the order.
func AuthorizeArchiveDownload(identity *auth.Identity, ownerID string) error {
	if identity == nil {
		return ErrPermissionDenied
	}
	if identity.IsStaff() {
		return nil
	}
	if ownerID != "" && identity.UID == ownerID {
		return nil
	}
	return ErrPermissionDenied
}
