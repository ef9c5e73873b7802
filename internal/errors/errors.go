package errors

import "errors"

var (
	// Startup errors
	ErrConfiguration = errors.New("configuration error")

	// Channel errors
	ErrCrypto          = errors.New("crypto failure")
	ErrInvalidKey      = errors.New("invalid encryption key")
	ErrUnauthenticated = errors.New("authentication failed")
	ErrForbidden       = errors.New("operation not permitted")

	// Request errors
	ErrValidation = errors.New("validation failed")
	ErrTransport  = errors.New("downstream unreachable")

	// Delivery errors
	ErrNotification = errors.New("notification delivery failed")

	// Storage errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrDatabaseConnection = errors.New("database connection failed")
	ErrQueryExecution     = errors.New("query execution failed")
)
