package main

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/tus/tusd/pkg/filestore"
	"github.com/tus/tusd/pkg/handler"
	"go.uber.org/zap"

	"dirbrowse/mutation"
	"dirbrowse/session"
)

const tusBasePath = "/upload/tus/"

func multipartSource(fh *multipart.FileHeader) mutation.Source {
	return mutation.Source{
		Name: fh.Filename,
		Size: fh.Size,
		Open: func() (io.ReadCloser, error) { return fh.Open() },
	}
}

// uploader moves finished resumable uploads into the current directory
// through the session, so they follow the same skip and progress rules as
// any other upload.
type uploader struct {
	dir    string
	ctrl   *session.Controller
	logger *zap.Logger
	retry  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newUploader(dir string, ctrl *session.Controller, logger *zap.Logger) *uploader {
	ctx, cancel := context.WithCancel(context.Background())
	return &uploader{
		dir:    dir,
		ctrl:   ctrl,
		logger: logger,
		retry:  200 * time.Millisecond,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (u *uploader) run(events <-chan handler.HookEvent) {
	defer close(u.done)
	for {
		select {
		case <-u.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			u.complete(u.ctx, ev.Upload)
		}
	}
}

// stop ends the loop. A completion already being written is finished
// first; only one still waiting for the controller is abandoned.
func (u *uploader) stop() {
	u.cancel()
	<-u.done
}

// complete hands one finished upload to the session, waiting out any
// operation already in flight. ctx only bounds that wait: once the session
// takes the file, the write runs to the end. The partial files are removed
// unless the wait was abandoned.
func (u *uploader) complete(ctx context.Context, info handler.FileInfo) []mutation.Outcome {
	tempFile := filepath.Join(u.dir, info.ID)
	keep := false
	defer func() {
		if keep {
			return
		}
		for _, p := range []string{tempFile, tempFile + ".info"} {
			if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
				u.logger.Warn("remove upload temp file", zap.String("path", p), zap.Error(err))
			}
		}
	}()

	name := info.MetaData["filename"]
	log := u.logger.With(zap.String("id", info.ID), zap.String("filename", name))
	if name == "" {
		log.Warn("upload completed without a filename")
		return nil
	}
	log.Info("upload completed", zap.Int64("size", info.Size))

	src := mutation.FileSource(name, tempFile, info.Size)
	for {
		_, outcomes, err := u.ctrl.Upload(context.WithoutCancel(ctx), []mutation.Source{src})
		if errors.Is(err, session.ErrBusy) {
			select {
			case <-ctx.Done():
				log.Warn("upload abandoned at shutdown, data left in upload dir", zap.String("path", tempFile))
				keep = true
				return nil
			case <-time.After(u.retry):
				continue
			}
		}
		if err != nil {
			log.Warn("upload rejected", zap.Error(err))
			return nil
		}
		return outcomes
	}
}

func (a *application) setupTusUpload(app *fiber.App) {
	dir := a.cfg.Upload.Dir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		a.logger.Error("resumable uploads disabled", zap.String("dir", dir), zap.Error(err))
		return
	}

	store := filestore.New(dir)
	composer := handler.NewStoreComposer()
	store.UseIn(composer)

	tusHandler, err := handler.NewHandler(handler.Config{
		StoreComposer:         composer,
		NotifyCompleteUploads: true,
		BasePath:              tusBasePath,
		MaxSize:               a.cfg.Upload.MaxSize,
	})
	if err != nil {
		a.logger.Error("unable to create tus handler", zap.Error(err))
		return
	}

	a.uploader = newUploader(dir, a.ctrl, a.logger.Named("upload"))
	go a.uploader.run(tusHandler.CompleteUploads)

	group := app.Group(tusBasePath, adaptor.HTTPMiddleware(tusHandler.Middleware))
	group.Post("", adaptor.HTTPHandlerFunc(tusHandler.PostFile))
	group.Head(":id", adaptor.HTTPHandlerFunc(tusHandler.HeadFile))
	group.Patch(":id", adaptor.HTTPHandlerFunc(tusHandler.PatchFile))
	group.Get(":id", adaptor.HTTPHandlerFunc(tusHandler.GetFile))
	group.Delete(":id", adaptor.HTTPHandlerFunc(tusHandler.DelFile))
}
