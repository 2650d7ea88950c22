// Package session drives the browse/home state machine. It owns the
// navigation stack and the current listing, and serializes every operation:
// a call made while another is in flight fails with ErrBusy.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"dirbrowse/host"
	"dirbrowse/listing"
	"dirbrowse/metrics"
	"dirbrowse/mutation"
	"dirbrowse/navigation"
	"dirbrowse/store"
)

type HandleStore interface {
	Save(h host.DirectoryHandle) (string, error)
	Get(id string) (host.DirectoryHandle, bool)
	Remove(id string) bool
}

type Registry interface {
	Add(rec store.DirectoryRecord) error
	Remove(id string) (bool, error)
	Get(id string) (store.DirectoryRecord, bool)
	List() []store.DirectoryRecord
}

type Lister interface {
	List(ctx context.Context, dir host.DirectoryHandle) (listing.Snapshot, error)
}

// Deps are the controller's collaborators. Confirm and Names may be nil, in
// which case deletes and folder creation are always cancelled.
type Deps struct {
	Host     host.Host
	Handles  HandleStore
	Registry Registry
	Gate     mutation.Gate
	Lister   Lister
	Ops      *mutation.Operations
	Confirm  ConfirmPrompt
	Names    NamePrompt
	Notifier Notifier
	Logger   *zap.Logger
	// OnChange, when set, receives every new State.
	OnChange func(State)
}

type Controller struct {
	deps   Deps
	logger *zap.Logger

	busy        atomic.Bool
	unsupported atomic.Pointer[error]

	mu         sync.RWMutex
	stack      navigation.Stack
	rootID     string
	snapshot   listing.Snapshot
	loading    bool
	uploading  bool
	progress   float64
	uploadFile string
}

func New(deps Deps) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Notifier == nil {
		deps.Notifier = NotifierFunc(func(Notification) {})
	}
	return &Controller{deps: deps, logger: logger.Named("session")}
}

// Startup checks host support. On failure it notifies once, and every
// later operation fails with ErrUnsupported.
func (c *Controller) Startup() error {
	var err error
	if c.deps.Host == nil {
		err = ErrUnsupported
	} else {
		err = c.deps.Host.Supported()
	}
	if err != nil {
		if !errors.Is(err, ErrUnsupported) {
			err = fmt.Errorf("%w: %v", ErrUnsupported, err)
		}
		c.unsupported.Store(&err)
		c.logger.Error("host unsupported", zap.Error(err))
		c.notify(SeverityError, "Unsupported platform",
			"This environment does not provide access to local directories.")
		return err
	}
	metrics.SetRegisteredDirectories(len(c.deps.Registry.List()))
	return nil
}

func (c *Controller) unsupportedErr() error {
	if p := c.unsupported.Load(); p != nil {
		return *p
	}
	return nil
}

// begin claims the controller for one operation. The returned func
// releases it and publishes the final state.
func (c *Controller) begin(uploading bool) (func(), error) {
	if err := c.unsupportedErr(); err != nil {
		return nil, err
	}
	if !c.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	c.update(func() {
		c.loading = !uploading
		c.uploading = uploading
		c.progress = 0
		c.uploadFile = ""
	})
	return func() {
		c.mu.Lock()
		c.loading = false
		c.uploading = false
		c.uploadFile = ""
		c.busy.Store(false)
		st := c.stateLocked()
		c.mu.Unlock()
		c.publish(st)
	}, nil
}

func (c *Controller) update(fn func()) {
	c.mu.Lock()
	fn()
	st := c.stateLocked()
	c.mu.Unlock()
	c.publish(st)
}

func (c *Controller) publish(st State) {
	if c.deps.OnChange != nil {
		c.deps.OnChange(st)
	}
}

func (c *Controller) notify(sev Severity, title, description string) {
	c.deps.Notifier.Notify(Notification{Title: title, Description: description, Severity: sev})
}

// notifyErr picks the severity from the error kind. Conflicts are warnings,
// everything else is an error.
func (c *Controller) notifyErr(title string, err error) {
	sev := SeverityError
	if errors.Is(err, ErrAlreadyExists) || errors.Is(err, ErrDuplicate) {
		sev = SeverityWarning
	}
	c.notify(sev, title, err.Error())
}

func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	return State{
		View:       c.stack.View(),
		RootID:     c.rootID,
		Path:       c.stack.Path(),
		Depth:      c.stack.Len(),
		Entries:    append(listing.Snapshot{}, c.snapshot...),
		Loading:    c.loading,
		Uploading:  c.uploading,
		Progress:   c.progress,
		UploadFile: c.uploadFile,
	}
}

// settled is the state an operation returns: what State will read once the
// operation has released the controller.
func (c *Controller) settled() State {
	st := c.State()
	st.Loading = false
	st.Uploading = false
	st.UploadFile = ""
	return st
}

// Current returns the directory being listed.
func (c *Controller) Current() (host.DirectoryHandle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stack.Current()
}

func (c *Controller) current() (host.DirectoryHandle, listing.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	dir, ok := c.stack.Current()
	return dir, c.snapshot, ok
}

// Directories lists the registered roots in insertion order.
func (c *Controller) Directories() ([]store.DirectoryRecord, error) {
	if err := c.unsupportedErr(); err != nil {
		return nil, err
	}
	return c.deps.Registry.List(), nil
}

// AddDirectory registers a directory the user picked. Read permission is
// requested here; the handle is stored only when it was granted and the
// directory is not registered already.
func (c *Controller) AddDirectory(ctx context.Context, dir host.DirectoryHandle) (store.DirectoryRecord, error) {
	end, err := c.begin(false)
	if err != nil {
		return store.DirectoryRecord{}, err
	}
	defer end()

	if dir == nil {
		c.notifyErr("Could not add directory", ErrNoTarget)
		return store.DirectoryRecord{}, ErrNoTarget
	}
	if !c.deps.Gate.Allowed(ctx, dir, host.ModeRead) {
		err := fmt.Errorf("%w: %s", ErrPermissionDenied, dir.Name())
		c.notifyErr("Permission denied", err)
		return store.DirectoryRecord{}, err
	}

	for _, rec := range c.deps.Registry.List() {
		existing, ok := c.deps.Handles.Get(rec.ID)
		if !ok {
			continue
		}
		same, err := dir.IsSameEntry(ctx, existing)
		if err != nil {
			c.logger.Debug("identity comparison skipped", zap.String("id", rec.ID), zap.Error(err))
			continue
		}
		if same {
			err := fmt.Errorf("%w: %s", ErrDuplicate, rec.Name)
			c.notifyErr("Already added", err)
			return rec, err
		}
	}

	id, err := c.deps.Handles.Save(dir)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrStorage, err)
		c.notifyErr("Could not add directory", err)
		return store.DirectoryRecord{}, err
	}
	rec := store.DirectoryRecord{ID: id, Name: dir.Name()}
	if err := c.deps.Registry.Add(rec); err != nil {
		c.deps.Handles.Remove(id)
		err = fmt.Errorf("%w: %w", ErrStorage, err)
		c.notifyErr("Could not add directory", err)
		return store.DirectoryRecord{}, err
	}
	metrics.SetRegisteredDirectories(len(c.deps.Registry.List()))
	c.logger.Info("directory added", zap.String("id", id), zap.String("name", rec.Name))
	c.notify(SeveritySuccess, "Directory added", fmt.Sprintf("%s is now available.", rec.Name))
	return rec, nil
}

// RemoveDirectory forgets a registered root. Browsing inside it returns
// to home.
func (c *Controller) RemoveDirectory(ctx context.Context, id string) (State, error) {
	end, err := c.begin(false)
	if err != nil {
		return State{}, err
	}
	defer end()

	rec, ok := c.deps.Registry.Get(id)
	if !ok {
		err := fmt.Errorf("%w: directory %s", ErrNotFound, id)
		c.notifyErr("Could not remove directory", err)
		return c.settled(), err
	}
	if _, err := c.deps.Registry.Remove(id); err != nil {
		err = fmt.Errorf("%w: %w", ErrStorage, err)
		c.notifyErr("Could not remove directory", err)
		return c.settled(), err
	}
	c.deps.Handles.Remove(id)
	metrics.SetRegisteredDirectories(len(c.deps.Registry.List()))

	c.mu.Lock()
	if c.rootID == id {
		c.goHomeLocked()
	}
	c.mu.Unlock()

	c.notify(SeverityInfo, "Directory removed", fmt.Sprintf("%s was removed from the list.", rec.Name))
	return c.settled(), nil
}

// prune drops a record whose authorization can no longer be used.
func (c *Controller) prune(id string) {
	if _, err := c.deps.Registry.Remove(id); err != nil {
		c.logger.Error("prune registry record", zap.String("id", id), zap.Error(err))
	}
	c.deps.Handles.Remove(id)
	metrics.SetRegisteredDirectories(len(c.deps.Registry.List()))
}

// Enter opens a registered root. A record whose handle is gone or whose
// read permission is not granted is pruned.
func (c *Controller) Enter(ctx context.Context, id string) (State, error) {
	end, err := c.begin(false)
	if err != nil {
		return State{}, err
	}
	defer end()

	rec, ok := c.deps.Registry.Get(id)
	if !ok {
		err := fmt.Errorf("%w: directory %s", ErrNotFound, id)
		c.notifyErr("Could not open directory", err)
		return c.settled(), err
	}
	dir, ok := c.deps.Handles.Get(id)
	if !ok || !c.deps.Gate.Allowed(ctx, dir, host.ModeRead) {
		c.prune(id)
		c.logger.Warn("stale authorization pruned", zap.String("id", id), zap.String("name", rec.Name))
		c.notify(SeverityError, "Directory unavailable",
			fmt.Sprintf("Access to %s is no longer granted. It was removed from the list; add it again to continue.", rec.Name))
		return c.settled(), fmt.Errorf("%w: %s", ErrStaleAuthorization, rec.Name)
	}

	snap, err := c.deps.Lister.List(ctx, dir)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrHostFailure, err)
		c.notifyErr("Could not open directory", err)
		return c.settled(), err
	}
	c.update(func() {
		c.stack.Enter(navigation.Frame{Name: rec.Name, Handle: dir})
		c.rootID = id
		c.snapshot = snap
	})
	return c.settled(), nil
}

// Descend opens the named subdirectory of the current listing.
func (c *Controller) Descend(ctx context.Context, name string) (State, error) {
	end, err := c.begin(false)
	if err != nil {
		return State{}, err
	}
	defer end()

	_, snap, ok := c.current()
	if !ok {
		c.notifyErr("Could not open folder", ErrNotBrowsing)
		return c.settled(), ErrNotBrowsing
	}
	item, ok := snap.Find(name, host.KindDirectory)
	sub, isDir := item.Handle.(host.DirectoryHandle)
	if !ok || !isDir {
		err := fmt.Errorf("%w: folder %s", ErrNotFound, name)
		c.notifyErr("Could not open folder", err)
		return c.settled(), err
	}

	next, err := c.deps.Lister.List(ctx, sub)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrHostFailure, err)
		c.notifyErr("Could not open folder", err)
		return c.settled(), err
	}
	c.update(func() {
		if err := c.stack.Descend(navigation.Frame{Name: name, Handle: sub}); err != nil {
			c.logger.Error("descend", zap.Error(err))
			return
		}
		c.snapshot = next
	})
	return c.settled(), nil
}

// Ascend pops one level. Leaving the root returns home.
func (c *Controller) Ascend(ctx context.Context) (State, error) {
	end, err := c.begin(false)
	if err != nil {
		return State{}, err
	}
	defer end()

	c.mu.RLock()
	depth := c.stack.Len()
	parent, hasParent := c.stack.Parent()
	c.mu.RUnlock()

	if depth == 0 {
		c.notifyErr("Could not go up", ErrNotBrowsing)
		return c.settled(), ErrNotBrowsing
	}
	if !hasParent {
		c.update(c.goHomeLocked)
		return c.settled(), nil
	}

	snap, err := c.deps.Lister.List(ctx, parent.Handle)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrHostFailure, err)
		c.notifyErr("Could not go up", err)
		return c.settled(), err
	}
	c.update(func() {
		c.stack.Ascend()
		c.snapshot = snap
	})
	return c.settled(), nil
}

// GoHome leaves browsing unconditionally.
func (c *Controller) GoHome() (State, error) {
	end, err := c.begin(false)
	if err != nil {
		return State{}, err
	}
	defer end()
	c.update(c.goHomeLocked)
	return c.settled(), nil
}

func (c *Controller) goHomeLocked() {
	c.stack.Reset()
	c.rootID = ""
	c.snapshot = nil
}

// Refresh re-lists the current directory.
func (c *Controller) Refresh(ctx context.Context) (State, error) {
	end, err := c.begin(false)
	if err != nil {
		return State{}, err
	}
	defer end()

	dir, _, ok := c.current()
	if !ok {
		return c.settled(), ErrNotBrowsing
	}
	if err := c.relist(ctx, dir); err != nil {
		c.notifyErr("Could not refresh", err)
		return c.settled(), err
	}
	return c.settled(), nil
}

// relist replaces the snapshot with a fresh listing of dir. The caller
// holds the busy flag, so dir is still the top of the stack.
func (c *Controller) relist(ctx context.Context, dir host.DirectoryHandle) error {
	snap, err := c.deps.Lister.List(ctx, dir)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHostFailure, err)
	}
	c.update(func() { c.snapshot = snap })
	return nil
}

// refreshAfter relists dir once a mutation has succeeded. The mutation
// stands either way; a failed relist leaves the old snapshot on screen and
// warns about it.
func (c *Controller) refreshAfter(ctx context.Context, dir host.DirectoryHandle, action string) {
	if err := c.relist(ctx, dir); err != nil {
		c.logger.Warn("refresh after "+action, zap.Error(err))
		c.notify(SeverityWarning, "Listing may be out of date",
			fmt.Sprintf("The %s succeeded but the folder could not be re-read: %v", action, err))
	}
}

// CreateDirectory asks for a name and creates that folder in the current
// directory.
func (c *Controller) CreateDirectory(ctx context.Context) (State, error) {
	end, err := c.begin(false)
	if err != nil {
		return State{}, err
	}
	defer end()

	dir, snap, ok := c.current()
	if !ok {
		c.notifyErr("Could not create folder", ErrNotBrowsing)
		return c.settled(), ErrNotBrowsing
	}
	siblings := snap.Names(host.KindDirectory)

	var name string
	if c.deps.Names != nil {
		name, err = c.deps.Names.PromptName(ctx, siblings)
		if err != nil {
			c.notifyErr("Could not create folder", err)
			return c.settled(), err
		}
	}
	name = strings.TrimSpace(name)
	if name == "" {
		c.notify(SeverityInfo, "Cancelled", "No folder was created.")
		return c.settled(), ErrCancelled
	}
	if slices.Contains(siblings, name) {
		err := fmt.Errorf("%w: %s", ErrAlreadyExists, name)
		c.notifyErr("Folder already exists", err)
		return c.settled(), err
	}

	if _, err := c.deps.Ops.CreateDirectory(ctx, dir, snap, name); err != nil {
		c.notifyErr("Could not create folder", err)
		return c.settled(), err
	}
	c.notify(SeveritySuccess, "Folder created", fmt.Sprintf("%s was created.", name))
	c.refreshAfter(ctx, dir, "create")
	return c.settled(), nil
}

// Upload writes sources into the current directory, one file at a time.
// Each file gets its own notification; the listing is refreshed once at
// the end if anything was written.
func (c *Controller) Upload(ctx context.Context, sources []mutation.Source) (State, []mutation.Outcome, error) {
	end, err := c.begin(true)
	if err != nil {
		return State{}, nil, err
	}
	defer end()

	dir, snap, ok := c.current()
	if !ok {
		c.notifyErr("Upload failed", ErrNotBrowsing)
		return c.settled(), nil, ErrNotBrowsing
	}

	outcomes, err := c.deps.Ops.WriteFiles(ctx, dir, snap, sources, func(name string, frac float64) {
		c.update(func() {
			c.uploadFile = name
			c.progress = frac
		})
	})
	if err != nil {
		c.notifyErr("Upload failed", err)
		return c.settled(), nil, err
	}

	written := 0
	for i, out := range outcomes {
		switch out.Status {
		case mutation.StatusSuccess:
			written++
			c.notify(SeveritySuccess, "Uploaded", fmt.Sprintf("%s (%s) was uploaded.", out.Name, humanSize(sources[i].Size)))
		case mutation.StatusSkipped:
			c.notify(SeverityWarning, "Skipped", fmt.Sprintf("%s already exists and was not overwritten.", out.Name))
		default:
			c.notify(SeverityError, "Upload failed", fmt.Sprintf("%s: %v", out.Name, out.Err))
		}
	}
	if written > 0 {
		c.refreshAfter(ctx, dir, "upload")
	}
	return c.settled(), outcomes, nil
}

// Delete removes an entry of the current listing after the user confirms.
func (c *Controller) Delete(ctx context.Context, name string) (State, error) {
	end, err := c.begin(false)
	if err != nil {
		return State{}, err
	}
	defer end()

	dir, snap, ok := c.current()
	if !ok {
		c.notifyErr("Could not delete", ErrNotBrowsing)
		return c.settled(), ErrNotBrowsing
	}
	item, ok := snap.Lookup(name)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrNotFound, name)
		c.notifyErr("Could not delete", err)
		return c.settled(), err
	}

	confirmed := false
	if c.deps.Confirm != nil {
		confirmed, err = c.deps.Confirm.ConfirmDelete(ctx, Target{Name: item.Name, Kind: item.Kind})
		if err != nil {
			c.notifyErr("Could not delete", err)
			return c.settled(), err
		}
	}
	if !confirmed {
		c.notify(SeverityInfo, "Cancelled", fmt.Sprintf("%s was not deleted.", name))
		return c.settled(), ErrCancelled
	}

	if err := c.deps.Ops.DeleteEntry(ctx, dir, item.Name, item.IsDir()); err != nil {
		c.notifyErr("Could not delete", err)
		return c.settled(), err
	}
	c.notify(SeveritySuccess, "Deleted", fmt.Sprintf("%s was deleted.", name))
	c.refreshAfter(ctx, dir, "delete")
	return c.settled(), nil
}

// OpenFile streams a file of the current listing for preview. It does not
// take the busy flag, so previews stay available during an upload.
func (c *Controller) OpenFile(ctx context.Context, name string) (listing.Item, io.ReadCloser, error) {
	if err := c.unsupportedErr(); err != nil {
		return listing.Item{}, nil, err
	}
	dir, snap, ok := c.current()
	if !ok {
		return listing.Item{}, nil, ErrNotBrowsing
	}
	item, ok := snap.Find(name, host.KindFile)
	fh, isFile := item.Handle.(host.FileHandle)
	if !ok || !isFile {
		return listing.Item{}, nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if !c.deps.Gate.Allowed(ctx, dir, host.ModeRead) {
		return listing.Item{}, nil, fmt.Errorf("%w: %s", ErrPermissionDenied, dir.Name())
	}
	r, err := fh.Open(ctx)
	if err != nil {
		return listing.Item{}, nil, fmt.Errorf("%w: %w", ErrHostFailure, err)
	}
	return item, r, nil
}
