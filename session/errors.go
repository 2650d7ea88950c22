package session

import (
	"errors"

	"dirbrowse/host"
	"dirbrowse/mutation"
)

var (
	ErrUnsupported        = host.ErrUnsupported
	ErrPermissionDenied   = mutation.ErrPermissionDenied
	ErrAlreadyExists      = mutation.ErrAlreadyExists
	ErrHostFailure        = mutation.ErrHostFailure
	ErrNoTarget           = mutation.ErrNoTarget
	ErrStaleAuthorization = errors.New("stored authorization is no longer valid")
	ErrStorage            = errors.New("directory storage unavailable")
	ErrNotBrowsing        = errors.New("no directory is open")
	ErrBusy               = errors.New("another operation is in progress")
	ErrDuplicate          = errors.New("directory is already registered")
	ErrNotFound           = errors.New("entry not found")
	ErrCancelled          = errors.New("cancelled by user")
)
