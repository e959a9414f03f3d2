package core

import "errors"

var (
	// ErrTransfer covers network and disk failures while fetching an artifact.
	ErrTransfer = errors.New("transfer failed")
	// ErrCatalogUnavailable means the patch catalog could not be downloaded.
	ErrCatalogUnavailable = errors.New("patch catalog unavailable")
	// ErrCatalogFormat means the catalog text lacks the expected structure.
	ErrCatalogFormat = errors.New("malformed patch catalog")
	ErrInvalidApp    = errors.New("invalid app choice")
	// ErrEngineFailure is a non-zero engine exit or a missing engine output.
	ErrEngineFailure = errors.New("patching engine failed")
	ErrRelocation    = errors.New("relocating output failed")
	ErrPublish       = errors.New("publish failed")
)
