package storage

import (
	"errors"

	"github.com/aws/smithy-go"
)

// IsUnrecoverable reports whether a store error cannot succeed on retry.
// Everything else (timeouts, connectivity, throttling) is transient.
func IsUnrecoverable(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "NoSuchUpload", "InvalidPart", "InvalidPartOrder", "EntityTooSmall":
		return true
	}
	return false
}
