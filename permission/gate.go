// Package permission decides whether the session may use a directory
// capability in a given mode.
package permission

import (
	"context"

	"go.uber.org/zap"

	"dirbrowse/host"
	"dirbrowse/metrics"
)

// Target is the part of a directory handle the gate needs.
type Target interface {
	Name() string
	QueryPermission(ctx context.Context, mode host.Mode) (host.PermissionState, error)
	RequestPermission(ctx context.Context, mode host.Mode) (host.PermissionState, error)
}

// Gate re-derives permission from the host on every call. Nothing is
// cached: grants can regress between two actions of the same session.
type Gate struct {
	logger *zap.Logger
}

func NewGate(logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{logger: logger}
}

// Check returns PermissionGranted or PermissionDenied, never
// PermissionPrompt. A prompt state triggers exactly one request, which may
// block on user interaction. Host errors count as denied.
func (g *Gate) Check(ctx context.Context, t Target, mode host.Mode) host.PermissionState {
	result := g.check(ctx, t, mode)
	metrics.RecordPermissionCheck(string(mode), string(result))
	return result
}

// Allowed is Check reduced to a bool.
func (g *Gate) Allowed(ctx context.Context, t Target, mode host.Mode) bool {
	return g.Check(ctx, t, mode) == host.PermissionGranted
}

func (g *Gate) check(ctx context.Context, t Target, mode host.Mode) host.PermissionState {
	if t == nil {
		return host.PermissionDenied
	}
	log := g.logger.With(zap.String("directory", t.Name()), zap.String("mode", string(mode)))

	state, err := t.QueryPermission(ctx, mode)
	if err != nil {
		log.Warn("permission query failed", zap.Error(err))
		return host.PermissionDenied
	}
	switch state {
	case host.PermissionGranted:
		return host.PermissionGranted
	case host.PermissionPrompt:
		log.Debug("requesting permission")
		state, err = t.RequestPermission(ctx, mode)
		if err != nil {
			log.Warn("permission request failed", zap.Error(err))
			return host.PermissionDenied
		}
		if state == host.PermissionGranted {
			return host.PermissionGranted
		}
		log.Info("permission refused")
		return host.PermissionDenied
	default:
		log.Debug("permission denied")
		return host.PermissionDenied
	}
}
