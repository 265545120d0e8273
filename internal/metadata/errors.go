package metadata

import "errors"

// Error taxonomy shared by the ledger and the HTTP layer. The HTTP layer
// maps these to status codes with errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrNoActiveNodes   = errors.New("no active storage nodes")
	ErrInvalidArgument = errors.New("invalid argument")
)
