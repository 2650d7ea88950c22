package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"
)

const separator = string(filepath.Separator)

// swapSuffix marks in-progress writes; the swap file is renamed over the
// target when the stream is closed.
const swapSuffix = ".crswap"

// Consenter answers permission prompts on behalf of the user. Returning
// false means the prompt was dismissed.
type Consenter interface {
	Consent(ctx context.Context, name string, mode Mode) (bool, error)
}

type ConsentFunc func(ctx context.Context, name string, mode Mode) (bool, error)

func (f ConsentFunc) Consent(ctx context.Context, name string, mode Mode) (bool, error) {
	return f(ctx, name, mode)
}

var (
	AllowAll = ConsentFunc(func(context.Context, string, Mode) (bool, error) { return true, nil })
	DenyAll  = ConsentFunc(func(context.Context, string, Mode) (bool, error) { return false, nil })
)

type grant struct {
	read  PermissionState
	write PermissionState
}

// Local implements Host on top of an afero filesystem. Grants are held in
// memory only, so a new Local behaves like a freshly reloaded page: every
// decoded handle is back to PermissionPrompt.
type Local struct {
	fs      afero.Fs
	consent Consenter

	mu     sync.Mutex
	grants map[string]*grant
}

func NewLocal(fsys afero.Fs, consent Consenter) *Local {
	return &Local{
		fs:      fsys,
		consent: consent,
		grants:  make(map[string]*grant),
	}
}

func (l *Local) Supported() error {
	if l == nil || l.fs == nil {
		return ErrUnsupported
	}
	info, err := l.fs.Stat(separator)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: root is not a directory", ErrUnsupported)
	}
	return nil
}

func (l *Local) Open(ctx context.Context, location string) (DirectoryHandle, error) {
	p := cleanLocation(location)
	info, err := l.fs.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, location)
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrTypeMismatch, location)
	}

	// Picking a directory again is a fresh user gesture, so an earlier
	// refusal goes back to prompting.
	l.mu.Lock()
	g := l.grantLocked(p)
	if g.read == PermissionDenied {
		g.read = PermissionPrompt
	}
	if g.write == PermissionDenied {
		g.write = PermissionPrompt
	}
	l.mu.Unlock()

	return &dirHandle{entry{host: l, root: p, path: p}}, nil
}

type token struct {
	Path string `json:"path"`
}

func (l *Local) Encode(h DirectoryHandle) ([]byte, error) {
	d, ok := h.(*dirHandle)
	if !ok || d.host != l {
		return nil, ErrForeign
	}
	return json.Marshal(token{Path: d.path})
}

func (l *Local) Decode(data []byte) (DirectoryHandle, error) {
	var t token
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode handle token: %w", err)
	}
	if t.Path == "" || t.Path != cleanLocation(t.Path) {
		return nil, fmt.Errorf("decode handle token: malformed location %q", t.Path)
	}

	l.mu.Lock()
	l.grantLocked(t.Path)
	l.mu.Unlock()

	return &dirHandle{entry{host: l, root: t.Path, path: t.Path}}, nil
}

// SetPermission overrides the grant behind h. Revoking read also revokes
// readwrite; granting readwrite also grants read.
func (l *Local) SetPermission(h Handle, mode Mode, state PermissionState) {
	e, ok := entryOf(h)
	if !ok || e.host != l {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	g := l.grantLocked(e.root)
	switch mode {
	case ModeReadWrite:
		g.write = state
		if state == PermissionGranted {
			g.read = PermissionGranted
		}
	default:
		g.read = state
		if state != PermissionGranted {
			g.write = state
		}
	}
}

// LocalPath returns the operating system path behind h when the underlying
// filesystem is backed by the OS.
func (l *Local) LocalPath(h Handle) (string, bool) {
	e, ok := entryOf(h)
	if !ok || e.host != l {
		return "", false
	}
	switch fsys := l.fs.(type) {
	case *afero.OsFs:
		return e.path, true
	case *afero.BasePathFs:
		p, err := fsys.RealPath(e.path)
		if err != nil {
			return "", false
		}
		return p, true
	}
	return "", false
}

func (l *Local) grantLocked(root string) *grant {
	g, ok := l.grants[root]
	if !ok {
		g = &grant{read: PermissionPrompt, write: PermissionPrompt}
		l.grants[root] = g
	}
	return g
}

func (l *Local) state(root string, mode Mode) PermissionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	g, ok := l.grants[root]
	if !ok {
		return PermissionPrompt
	}
	if mode == ModeReadWrite {
		return g.write
	}
	if g.read == PermissionGranted || g.write == PermissionGranted {
		return PermissionGranted
	}
	return g.read
}

func (l *Local) require(root string, mode Mode) error {
	if l.state(root, mode) != PermissionGranted {
		return fmt.Errorf("%w: %s access", ErrPermission, mode)
	}
	return nil
}

func cleanLocation(location string) string {
	return filepath.Clean(separator + location)
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// entry is the shared state of every handle: the grant it was issued under
// (root) and where it points.
type entry struct {
	host *Local
	root string
	path string
}

func (e entry) Name() string {
	if e.path == separator {
		return separator
	}
	return filepath.Base(e.path)
}

func entryOf(h Handle) (entry, bool) {
	switch v := h.(type) {
	case *dirHandle:
		return v.entry, true
	case *fileHandle:
		return v.entry, true
	}
	return entry{}, false
}

func (e entry) isSameEntry(self Handle, other Handle) (bool, error) {
	o, ok := entryOf(other)
	if !ok {
		return false, nil
	}
	if err := e.host.require(e.root, ModeRead); err != nil {
		return false, err
	}
	if o.host != nil {
		if err := o.host.require(o.root, ModeRead); err != nil {
			return false, err
		}
	}
	return e.host == o.host && e.path == o.path && self.Kind() == other.Kind(), nil
}

type dirHandle struct {
	entry
}

func (d *dirHandle) Kind() Kind { return KindDirectory }

func (d *dirHandle) IsSameEntry(_ context.Context, other Handle) (bool, error) {
	return d.isSameEntry(d, other)
}

func (d *dirHandle) exists() error {
	info, err := d.host.fs.Stat(d.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, d.Name())
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrTypeMismatch, d.Name())
	}
	return nil
}

func (d *dirHandle) QueryPermission(_ context.Context, mode Mode) (PermissionState, error) {
	if err := d.exists(); err != nil {
		return PermissionDenied, err
	}
	return d.host.state(d.root, mode), nil
}

func (d *dirHandle) RequestPermission(ctx context.Context, mode Mode) (PermissionState, error) {
	if err := d.exists(); err != nil {
		return PermissionDenied, err
	}
	if st := d.host.state(d.root, mode); st != PermissionPrompt {
		return st, nil
	}

	allowed := false
	if d.host.consent != nil {
		ok, err := d.host.consent.Consent(ctx, d.Name(), mode)
		if err != nil {
			return PermissionDenied, err
		}
		allowed = ok
	}

	st := PermissionDenied
	if allowed {
		st = PermissionGranted
	}
	d.host.SetPermission(d, mode, st)
	return d.host.state(d.root, mode), nil
}

func (d *dirHandle) Entries(_ context.Context) ([]Handle, error) {
	if err := d.host.require(d.root, ModeRead); err != nil {
		return nil, err
	}
	infos, err := afero.ReadDir(d.host.fs, d.path)
	if err != nil {
		return nil, err
	}
	handles := make([]Handle, 0, len(infos))
	for _, info := range infos {
		// Uncommitted writes are not entries yet.
		if !info.IsDir() && strings.HasSuffix(info.Name(), swapSuffix) {
			continue
		}
		e := entry{host: d.host, root: d.root, path: filepath.Join(d.path, info.Name())}
		if info.IsDir() {
			handles = append(handles, &dirHandle{e})
		} else {
			handles = append(handles, &fileHandle{e})
		}
	}
	return handles, nil
}

func (d *dirHandle) child(name string, create bool) (string, os.FileInfo, error) {
	if err := validName(name); err != nil {
		return "", nil, err
	}
	mode := ModeRead
	if create {
		mode = ModeReadWrite
	}
	if err := d.host.require(d.root, mode); err != nil {
		return "", nil, err
	}
	p := filepath.Join(d.path, name)
	info, err := d.host.fs.Stat(p)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", nil, err
	}
	return p, info, nil
}

func (d *dirHandle) GetDirectoryHandle(_ context.Context, name string, create bool) (DirectoryHandle, error) {
	p, info, err := d.child(name, create)
	if err != nil {
		return nil, err
	}
	if info != nil {
		if !info.IsDir() {
			return nil, fmt.Errorf("%w: %s", ErrTypeMismatch, name)
		}
	} else {
		if !create {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		if err := d.host.fs.Mkdir(p, 0o755); err != nil {
			return nil, err
		}
	}
	return &dirHandle{entry{host: d.host, root: d.root, path: p}}, nil
}

func (d *dirHandle) GetFileHandle(_ context.Context, name string, create bool) (FileHandle, error) {
	p, info, err := d.child(name, create)
	if err != nil {
		return nil, err
	}
	if info != nil {
		if info.IsDir() {
			return nil, fmt.Errorf("%w: %s", ErrTypeMismatch, name)
		}
	} else {
		if !create {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		f, err := d.host.fs.OpenFile(p, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		if err := f.Close(); err != nil {
			return nil, err
		}
	}
	return &fileHandle{entry{host: d.host, root: d.root, path: p}}, nil
}

func (d *dirHandle) RemoveEntry(_ context.Context, name string, recursive bool) error {
	if err := validName(name); err != nil {
		return err
	}
	if err := d.host.require(d.root, ModeReadWrite); err != nil {
		return err
	}
	p := filepath.Join(d.path, name)
	info, err := d.host.fs.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return err
	}
	if recursive {
		return d.host.fs.RemoveAll(p)
	}
	if info.IsDir() {
		children, err := afero.ReadDir(d.host.fs, p)
		if err != nil {
			return err
		}
		if len(children) > 0 {
			return fmt.Errorf("%w: %s", ErrNotEmpty, name)
		}
	}
	return d.host.fs.Remove(p)
}

type fileHandle struct {
	entry
}

func (f *fileHandle) Kind() Kind { return KindFile }

func (f *fileHandle) IsSameEntry(_ context.Context, other Handle) (bool, error) {
	return f.isSameEntry(f, other)
}

func (f *fileHandle) File(_ context.Context) (FileInfo, error) {
	if err := f.host.require(f.root, ModeRead); err != nil {
		return FileInfo{}, err
	}
	file, err := f.host.fs.Open(f.path)
	if err != nil {
		return FileInfo{}, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return FileInfo{}, err
	}
	m, err := mimetype.DetectReader(file)
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{
		Size:         info.Size(),
		LastModified: info.ModTime(),
		Type:         mediaType(m.String()),
	}, nil
}

func (f *fileHandle) Open(_ context.Context) (io.ReadCloser, error) {
	if err := f.host.require(f.root, ModeRead); err != nil {
		return nil, err
	}
	return f.host.fs.Open(f.path)
}

func (f *fileHandle) CreateWritable(_ context.Context) (WritableStream, error) {
	if err := f.host.require(f.root, ModeReadWrite); err != nil {
		return nil, err
	}
	swap := f.path + swapSuffix
	file, err := f.host.fs.OpenFile(swap, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &writable{handle: f, file: file, swap: swap}, nil
}

// mediaType drops parameters such as charset so the type can be matched
// directly.
func mediaType(s string) string {
	mt, _, err := mime.ParseMediaType(s)
	if err != nil {
		return s
	}
	return mt
}

type writable struct {
	handle *fileHandle
	file   afero.File
	swap   string
	done   bool
}

func (w *writable) Write(p []byte) (int, error) {
	if w.done {
		return 0, os.ErrClosed
	}
	return w.file.Write(p)
}

func (w *writable) Close() error {
	if w.done {
		return os.ErrClosed
	}
	w.done = true
	fsys := w.handle.host.fs
	if err := w.file.Close(); err != nil {
		_ = fsys.Remove(w.swap)
		return err
	}
	// The grant can lapse while the data is being written.
	if err := w.handle.host.require(w.handle.root, ModeReadWrite); err != nil {
		_ = fsys.Remove(w.swap)
		return err
	}
	if err := fsys.Rename(w.swap, w.handle.path); err != nil {
		_ = fsys.Remove(w.swap)
		return err
	}
	return nil
}

func (w *writable) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	_ = w.file.Close()
	return w.handle.host.fs.Remove(w.swap)
}
