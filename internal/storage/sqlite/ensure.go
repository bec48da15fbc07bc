package sqlite

import "github.com/felixgeelhaar/techshelf/internal/storage"

// Ensure SQLite stores implement the storage interfaces.
var (
	_ storage.KV = (*KVStore)(nil)
)
