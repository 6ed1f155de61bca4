package model

import "errors"

var (
	// ErrUnconfigured means the tenant has no TenantConfig; no network I/O is attempted
	ErrUnconfigured = errors.New("tenant is not configured")
	// ErrInvalidConfiguration is a malformed endpoint URL or secret at write time
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrAuthFailed is a rejected login or a token that stays invalid after one re-login
	ErrAuthFailed = errors.New("authentication failed")
	// ErrConnectionFailed covers network, DNS and timeout errors
	ErrConnectionFailed = errors.New("connection failed")
	// ErrServiceError is a non-auth error returned by the remote target
	ErrServiceError = errors.New("remote service error")
	// ErrStore is a persistence layer failure
	ErrStore = errors.New("store error")

	ErrTenantNotFound = errors.New("tenant not found")
)
