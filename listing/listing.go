// Package listing turns a directory handle into a sorted snapshot of its
// immediate children.
package listing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"dirbrowse/host"
	"dirbrowse/metrics"
)

// Item is one child of a listed directory. Size, LastModified and Type are
// only set for files; directory sizes are never computed.
type Item struct {
	Name         string      `json:"name"`
	Kind         host.Kind   `json:"kind"`
	Handle       host.Handle `json:"-"`
	Size         *int64      `json:"size,omitempty"`
	LastModified *time.Time  `json:"lastModified,omitempty"`
	Type         string      `json:"type,omitempty"`
}

func (it Item) IsDir() bool { return it.Kind == host.KindDirectory }

// Snapshot is the complete result of one List call. It is replaced as a
// whole, never edited.
type Snapshot []Item

// Find returns the item with the given name and kind.
func (s Snapshot) Find(name string, kind host.Kind) (Item, bool) {
	for _, it := range s {
		if it.Name == name && it.Kind == kind {
			return it, true
		}
	}
	return Item{}, false
}

// Lookup returns the item with the given name regardless of kind.
func (s Snapshot) Lookup(name string) (Item, bool) {
	for _, it := range s {
		if it.Name == name {
			return it, true
		}
	}
	return Item{}, false
}

// Names returns the names of all items of kind, in snapshot order.
func (s Snapshot) Names(kind host.Kind) []string {
	var names []string
	for _, it := range s {
		if it.Kind == kind {
			names = append(names, it.Name)
		}
	}
	return names
}

type Service struct {
	logger *zap.Logger
}

func NewService(logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{logger: logger}
}

// List enumerates dir. Each file is opened once to resolve its details. Any
// failure aborts the whole listing; no partial snapshot is returned.
func (s *Service) List(ctx context.Context, dir host.DirectoryHandle) (Snapshot, error) {
	start := time.Now()
	defer func() { metrics.ObserveListing(time.Since(start)) }()

	children, err := dir.Entries(ctx)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir.Name(), err)
	}

	items := make(Snapshot, 0, len(children))
	for _, child := range children {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item := Item{Name: child.Name(), Kind: child.Kind(), Handle: child}
		if fh, ok := child.(host.FileHandle); ok && child.Kind() == host.KindFile {
			info, err := fh.File(ctx)
			if err != nil {
				return nil, fmt.Errorf("list %s: resolve %s: %w", dir.Name(), child.Name(), err)
			}
			size, modified := info.Size, info.LastModified
			item.Size = &size
			item.LastModified = &modified
			item.Type = info.Type
		}
		items = append(items, item)
	}
	Sort(items)

	s.logger.Debug("directory listed",
		zap.String("directory", dir.Name()),
		zap.Int("entries", len(items)),
		zap.Duration("duration", time.Since(start)))
	return items, nil
}

// Sort orders directories before files and names by locale collation
// within each kind. Names that collate equal fall back to byte order so the
// result never depends on enumeration order.
func Sort(items []Item) {
	c := collate.New(language.Und)
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.IsDir() != b.IsDir() {
			return a.IsDir()
		}
		if r := c.CompareString(a.Name, b.Name); r != 0 {
			return r < 0
		}
		return a.Name < b.Name
	})
}
