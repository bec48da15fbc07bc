package local

import (
	"errors"

	"github.com/felixgeelhaar/techshelf/internal/storage"
)

var (
	// ErrNotFound is returned when a key is not found
	ErrNotFound = storage.ErrNotFound

	// ErrInvalidKey is returned for keys that cannot be used as file names
	ErrInvalidKey = errors.New("invalid key")
)
