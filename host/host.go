// Package host models the capability-based filesystem API that the session
// core runs against. Handles are opaque: callers only ever see entry names,
// never paths, and every read or write is checked against the permission
// grant the handle was obtained under.
package host

import (
	"context"
	"errors"
	"io"
	"time"
)

type Kind string

const (
	KindFile      Kind = "file"
	KindDirectory Kind = "directory"
)

// Mode is the access level requested against a handle.
type Mode string

const (
	ModeRead      Mode = "read"
	ModeReadWrite Mode = "readwrite"
)

type PermissionState string

const (
	PermissionGranted PermissionState = "granted"
	PermissionPrompt  PermissionState = "prompt"
	PermissionDenied  PermissionState = "denied"
)

var (
	ErrUnsupported  = errors.New("filesystem access is not supported on this host")
	ErrPermission   = errors.New("permission not granted")
	ErrNotFound     = errors.New("entry not found")
	ErrTypeMismatch = errors.New("entry exists with a different kind")
	ErrInvalidName  = errors.New("invalid entry name")
	ErrNotEmpty     = errors.New("directory is not empty")
	ErrForeign      = errors.New("handle does not belong to this host")
)

// Handle is the common part of file and directory capabilities.
type Handle interface {
	Name() string
	Kind() Kind
	// IsSameEntry reports whether both handles refer to the same entry.
	// It fails with ErrPermission when the host refuses to compare
	// handles that are not currently readable.
	IsSameEntry(ctx context.Context, other Handle) (bool, error)
}

type DirectoryHandle interface {
	Handle
	Entries(ctx context.Context) ([]Handle, error)
	QueryPermission(ctx context.Context, mode Mode) (PermissionState, error)
	// RequestPermission may block until the user answers a consent prompt.
	RequestPermission(ctx context.Context, mode Mode) (PermissionState, error)
	GetDirectoryHandle(ctx context.Context, name string, create bool) (DirectoryHandle, error)
	GetFileHandle(ctx context.Context, name string, create bool) (FileHandle, error)
	RemoveEntry(ctx context.Context, name string, recursive bool) error
}

// FileInfo is what opening a file reveals about it.
type FileInfo struct {
	Size         int64
	LastModified time.Time
	Type         string
}

type FileHandle interface {
	Handle
	// File opens the file once and resolves its size, modification time
	// and sniffed MIME type.
	File(ctx context.Context) (FileInfo, error)
	Open(ctx context.Context) (io.ReadCloser, error)
	CreateWritable(ctx context.Context) (WritableStream, error)
}

// WritableStream buffers writes until Close commits them. Abort discards
// everything written so far and leaves the target untouched.
type WritableStream interface {
	io.Writer
	Close() error
	Abort() error
}

// Host is the entry point to a capability filesystem.
type Host interface {
	// Supported reports ErrUnsupported (possibly wrapped) when the
	// capability API cannot be used at all.
	Supported() error
	// Open plays the part of the platform's directory picker.
	Open(ctx context.Context, location string) (DirectoryHandle, error)
	// Encode and Decode turn a directory capability into a token the
	// handle store can persist. A decoded handle carries whatever grant the
	// host holds for that location right now, which after a restart is none.
	Encode(h DirectoryHandle) ([]byte, error)
	Decode(token []byte) (DirectoryHandle, error)
}
