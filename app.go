package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"dirbrowse/config"
	"dirbrowse/host"
	"dirbrowse/listing"
	"dirbrowse/mutation"
	"dirbrowse/permission"
	"dirbrowse/session"
	"dirbrowse/store"
)

// application is everything one server process owns.
type application struct {
	cfg      *config.Config
	logger   *zap.Logger
	db       *store.DB
	local    *host.Local
	ctrl     *session.Controller
	hub      *hub
	watcher  *watcher
	uploader *uploader
	http     *fiber.App

	// inflight tracks mutation requests so shutdown can wait for them.
	inflight sync.WaitGroup
}

func consenterFor(mode string) host.Consenter {
	if mode == "deny" {
		return host.DenyAll
	}
	return host.AllowAll
}

// hostFS confines the OS filesystem to root.
func hostFS(root string) afero.Fs {
	root = filepath.Clean(root)
	if root == string(filepath.Separator) {
		return afero.NewOsFs()
	}
	return afero.NewBasePathFs(afero.NewOsFs(), root)
}

func build(cfg *config.Config, logger *zap.Logger) (*application, error) {
	a := &application{cfg: cfg, logger: logger}

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	db, err := store.Open(cfg.Storage.Path, logger.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.db = db

	registry, err := store.NewRegistry(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load registry: %w", err)
	}

	a.local = host.NewLocal(hostFS(cfg.Host.Root), consenterFor(cfg.Host.Consent))
	a.hub = newHub(logger.Named("events"))

	gate := permission.NewGate(logger.Named("permission"))
	opts := []mutation.Option{
		mutation.WithChunkSize(cfg.Upload.ChunkSize),
		mutation.WithAuditLog(mutation.NewAuditLog(cfg.Storage.AuditLog, logger.Named("audit"))),
	}

	a.ctrl = session.New(session.Deps{
		Host:     a.local,
		Handles:  store.NewHandleStore(db, a.local),
		Registry: registry,
		Gate:     gate,
		Lister:   listing.NewService(logger.Named("listing")),
		Ops:      mutation.New(gate, logger.Named("mutation"), opts...),
		Confirm:  httpConfirm{},
		Names:    httpName{},
		Notifier: a.hub,
		Logger:   logger,
		OnChange: a.stateChanged,
	})
	if err := a.ctrl.Startup(); err != nil {
		// The server still comes up so clients can see why nothing works.
		logger.Error("host unsupported", zap.Error(err))
	}

	if cfg.Watch.Enabled {
		w, err := newWatcher(a.ctrl, a.local, cfg.Watch.Debounce, logger.Named("watch"))
		if err != nil {
			logger.Warn("directory watching disabled", zap.Error(err))
		} else {
			a.watcher = w
		}
	}

	a.http = a.routes()
	return a, nil
}

func (a *application) stateChanged(st session.State) {
	a.hub.broadcastState(st)
	if a.watcher != nil && !st.Busy() {
		a.watcher.follow()
	}
}

// Shutdown stops accepting requests, waits for in-flight mutations and
// releases storage.
func (a *application) Shutdown() error {
	var errs []error
	if err := a.http.ShutdownWithTimeout(a.cfg.Server.ShutdownTimeout); err != nil {
		errs = append(errs, fmt.Errorf("http: %w", err))
	}
	a.inflight.Wait()
	if a.uploader != nil {
		a.uploader.stop()
	}
	if a.watcher != nil {
		if err := a.watcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("watcher: %w", err))
		}
	}
	a.hub.closeAll()
	if err := a.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("storage: %w", err))
	}
	return errors.Join(errs...)
}
