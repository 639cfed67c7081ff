package models

import "errors"

// Failure categories shared by the services and mapped to HTTP statuses by the server.
var (
	ErrForbidden         = errors.New("caller lacks required role")
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("record not found")
	ErrPhoneNotVerified  = errors.New("phone number not verified")
	ErrInvalidTransition = errors.New("invalid status transition")
)
