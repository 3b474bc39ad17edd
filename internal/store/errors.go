package store

import "errors"

// Sentinel errors shared by every sub-store. Gorm errors are translated at
// the store boundary so callers never import gorm to test for them.
var (
	ErrRecordNotFound = errors.New("record not found")
	ErrDuplicateKey   = errors.New("already exists")
)
