package mirror

import (
	"context"
	"os"
	"path"
	"sort"

	apperrors "github.com/odvcencio/tandem/pkg/errors"
)

// Entry types reported by List.
const (
	TypeFile      = "file"
	TypeDirectory = "directory"
)

// Entry is one node of a directory listing. Path is relative to the active
// root and always slash separated.
type Entry struct {
	Name     string  `json:"name"`
	Path     string  `json:"path"`
	Type     string  `json:"type"`
	Children []Entry `json:"children,omitempty"`
}

// List walks the logical directory recursively on the active root. An empty
// path lists the root itself. Subdirectories that cannot be read are reported
// with no children; the requested directory itself must be readable.
func (m *Mirror) List(ctx context.Context, logical string) ([]Entry, error) {
	rel, err := cleanLogical(logical, true)
	if err != nil {
		return nil, withOp(err, OpList, logical)
	}
	dir := join(m.ActiveRoot(), rel)

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fsError(err, apperrors.ErrCodeFSList, OpList, rel)
	}
	if !info.IsDir() {
		return nil, apperrors.New(apperrors.ErrCodeFSList, "not a directory").
			WithContext("op", OpList).
			WithContext("path", rel)
	}

	entries, err := m.walk(ctx, dir, rel)
	if err != nil {
		return nil, fsError(err, apperrors.ErrCodeFSList, OpList, rel)
	}
	return entries, nil
}

func (m *Mirror) walk(ctx context.Context, dir, rel string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	items, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name() < items[j].Name() })

	out := make([]Entry, 0, len(items))
	for _, item := range items {
		childRel := path.Join(rel, item.Name())
		entry := Entry{Name: item.Name(), Path: childRel, Type: TypeFile}
		if item.IsDir() {
			entry.Type = TypeDirectory
			children, err := m.walk(ctx, join(dir, item.Name()), childRel)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				m.logger.Debug("skipping unreadable directory", "path", childRel, "error", err)
				children = nil
			}
			entry.Children = children
		}
		out = append(out, entry)
	}
	return out, nil
}
