// Package mutation implements the write operations on the current
// directory. Every operation first resolves its target and re-checks
// readwrite permission; refreshing the listing afterwards is the caller's
// job.
package mutation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"dirbrowse/host"
	"dirbrowse/listing"
	"dirbrowse/metrics"
	"dirbrowse/permission"
)

// ChunkSize is how much of an upload is written between progress reports.
const ChunkSize = 1 << 20

var (
	ErrNoTarget         = errors.New("no target directory")
	ErrPermissionDenied = errors.New("insufficient permission")
	ErrAlreadyExists    = errors.New("already exists")
	ErrHostFailure      = errors.New("host operation failed")
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Outcome is the result for one item of a batch.
type Outcome struct {
	Name   string
	Status Status
	Err    error
}

// Source is one file to upload. Open is called once, when the file's turn
// in the batch comes.
type Source struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// BytesSource wraps an in-memory payload.
func BytesSource(name string, data []byte) Source {
	return Source{
		Name: name,
		Size: int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// FileSource streams from a file on the local disk, such as a finished
// resumable upload.
func FileSource(name, path string, size int64) Source {
	return Source{
		Name: name,
		Size: size,
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}
}

// ProgressFunc receives the completed fraction of the named file, in [0,1].
type ProgressFunc func(name string, fraction float64)

// Gate is the permission check every mutation runs first.
type Gate interface {
	Allowed(ctx context.Context, t permission.Target, mode host.Mode) bool
}

type Operations struct {
	gate      Gate
	logger    *zap.Logger
	audit     *AuditLog
	chunkSize int
}

type Option func(*Operations)

// WithAuditLog appends every outcome to log.
func WithAuditLog(log *AuditLog) Option {
	return func(o *Operations) { o.audit = log }
}

// WithChunkSize overrides ChunkSize.
func WithChunkSize(n int) Option {
	return func(o *Operations) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}

func New(gate Gate, logger *zap.Logger, opts ...Option) *Operations {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Operations{gate: gate, logger: logger, chunkSize: ChunkSize}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Operations) preflight(ctx context.Context, dir host.DirectoryHandle) error {
	if dir == nil {
		return ErrNoTarget
	}
	if !o.gate.Allowed(ctx, dir, host.ModeReadWrite) {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, dir.Name())
	}
	return nil
}

func hostFailure(err error) error {
	return fmt.Errorf("%w: %w", ErrHostFailure, err)
}

// CreateDirectory creates name inside dir. The collision check runs against
// snapshot, the last listing the user saw, and not against the host.
func (o *Operations) CreateDirectory(ctx context.Context, dir host.DirectoryHandle, snapshot listing.Snapshot, name string) (host.DirectoryHandle, error) {
	if err := o.preflight(ctx, dir); err != nil {
		o.record("mkdir", dir, name, StatusFailed, err)
		return nil, err
	}
	if _, exists := snapshot.Find(name, host.KindDirectory); exists {
		err := fmt.Errorf("%w: %s", ErrAlreadyExists, name)
		o.record("mkdir", dir, name, StatusSkipped, err)
		return nil, err
	}
	created, err := dir.GetDirectoryHandle(ctx, name, true)
	if err != nil {
		err = hostFailure(err)
		o.record("mkdir", dir, name, StatusFailed, err)
		return nil, err
	}
	o.record("mkdir", dir, name, StatusSuccess, nil)
	return created, nil
}

// DeleteEntry removes name from dir, recursively for directories. The
// caller must have obtained user confirmation already.
func (o *Operations) DeleteEntry(ctx context.Context, dir host.DirectoryHandle, name string, isDirectory bool) error {
	if err := o.preflight(ctx, dir); err != nil {
		o.record("delete", dir, name, StatusFailed, err)
		return err
	}
	if err := dir.RemoveEntry(ctx, name, isDirectory); err != nil {
		err = hostFailure(err)
		o.record("delete", dir, name, StatusFailed, err)
		return err
	}
	o.record("delete", dir, name, StatusSuccess, nil)
	return nil
}

// WriteFiles uploads sources into dir one at a time. A file whose name is
// already taken in snapshot, or earlier in the same batch, is skipped and
// never overwritten. The returned error is only set when the pre-flight
// fails; per-file failures are reported in the outcomes and do not stop
// the batch.
func (o *Operations) WriteFiles(ctx context.Context, dir host.DirectoryHandle, snapshot listing.Snapshot, sources []Source, progress ProgressFunc) ([]Outcome, error) {
	if err := o.preflight(ctx, dir); err != nil {
		for _, src := range sources {
			o.record("upload", dir, src.Name, StatusFailed, err)
		}
		return nil, err
	}
	if progress == nil {
		progress = func(string, float64) {}
	}

	taken := make(map[string]bool)
	for _, name := range snapshot.Names(host.KindFile) {
		taken[name] = true
	}

	outcomes := make([]Outcome, 0, len(sources))
	for _, src := range sources {
		out := Outcome{Name: src.Name}
		switch {
		case taken[src.Name]:
			out.Status = StatusSkipped
			out.Err = fmt.Errorf("%w: %s", ErrAlreadyExists, src.Name)
		default:
			if err := o.writeFile(ctx, dir, src, progress); err != nil {
				out.Status = StatusFailed
				out.Err = err
			} else {
				out.Status = StatusSuccess
				taken[src.Name] = true
			}
		}
		o.record("upload", dir, src.Name, out.Status, out.Err)
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

func (o *Operations) writeFile(ctx context.Context, dir host.DirectoryHandle, src Source, progress ProgressFunc) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if src.Open == nil {
		return hostFailure(errors.New("source has no content"))
	}

	_, statErr := dir.GetFileHandle(ctx, src.Name, false)
	existed := !errors.Is(statErr, host.ErrNotFound)

	fh, err := dir.GetFileHandle(ctx, src.Name, true)
	if err != nil {
		return hostFailure(err)
	}
	// A failed upload must not leave behind the empty file created above.
	defer func() {
		if err != nil && !existed {
			if rmErr := dir.RemoveEntry(context.WithoutCancel(ctx), src.Name, false); rmErr != nil {
				o.logger.Warn("cleanup after failed upload", zap.String("file", src.Name), zap.Error(rmErr))
			}
		}
	}()

	r, err := src.Open()
	if err != nil {
		return hostFailure(err)
	}
	defer r.Close()

	w, err := fh.CreateWritable(ctx)
	if err != nil {
		return hostFailure(err)
	}

	written, err := o.copyChunks(ctx, w, r, src, progress)
	if err != nil {
		if abortErr := w.Abort(); abortErr != nil {
			o.logger.Warn("abort writable", zap.String("file", src.Name), zap.Error(abortErr))
		}
		return err
	}
	if err := w.Close(); err != nil {
		return hostFailure(err)
	}
	metrics.AddBytesUploaded(written)
	o.logger.Debug("file written", zap.String("file", src.Name), zap.Int64("bytes", written))
	return nil
}

func (o *Operations) copyChunks(ctx context.Context, w io.Writer, r io.Reader, src Source, progress ProgressFunc) (int64, error) {
	buf := make([]byte, o.chunkSize)
	var written int64
	last := -1.0
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return written, hostFailure(err)
			}
			written += int64(n)
			last = fraction(written, src.Size)
			progress(src.Name, last)
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return written, hostFailure(readErr)
		}
	}
	if last < 1 {
		progress(src.Name, 1)
	}
	return written, nil
}

// fraction is written/size clamped to [0,1]. Unknown sizes report 0 until
// the final 1.
func fraction(written, size int64) float64 {
	if size <= 0 {
		return 0
	}
	f := float64(written) / float64(size)
	if f > 1 {
		return 1
	}
	return f
}

func (o *Operations) record(op string, dir host.DirectoryHandle, name string, status Status, err error) {
	metrics.RecordMutation(op, string(status))
	fields := []zap.Field{zap.String("operation", op), zap.String("name", name), zap.String("status", string(status))}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	if status == StatusFailed {
		o.logger.Warn("mutation failed", fields...)
	} else {
		o.logger.Info("mutation", fields...)
	}
	if o.audit != nil {
		target := ""
		if dir != nil {
			target = dir.Name()
		}
		o.audit.Append(op, target, name, status, err)
	}
}
