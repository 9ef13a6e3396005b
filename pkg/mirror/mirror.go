// Package mirror resolves logical editor paths onto the source and preview
// roots and keeps the preview root in step with the source root when the
// workspace is edited locally.
package mirror

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/file"

	apperrors "github.com/odvcencio/tandem/pkg/errors"
	"github.com/odvcencio/tandem/pkg/logging"
)

// SourceMode selects which root is authoritative.
type SourceMode string

const (
	// ModeLocal reads from the source root and mirrors mutations to preview.
	ModeLocal SourceMode = "local"
	// ModeGit reads from the preview root only and never mirrors.
	ModeGit SourceMode = "git"
)

// ParseMode normalizes a configured source type.
func ParseMode(raw string) (SourceMode, error) {
	switch SourceMode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeLocal, "":
		return ModeLocal, nil
	case ModeGit:
		return ModeGit, nil
	default:
		return "", apperrors.New(apperrors.ErrCodeInvalidInput, "unknown source mode").
			WithContext("mode", raw)
	}
}

// Operation names carried on structured errors.
const (
	OpRead   = "read"
	OpWrite  = "write"
	OpDelete = "delete"
	OpList   = "list"
)

// Options configures a Mirror.
type Options struct {
	SourceDir  string
	PreviewDir string
	Mode       SourceMode
	Logger     *slog.Logger
}

// Mirror performs file operations against the active root.
type Mirror struct {
	sourceDir  string
	previewDir string
	mode       SourceMode
	fs         afs.Service
	logger     *slog.Logger
}

// Result describes a completed write or delete.
type Result struct {
	Path      string // logical path
	Primary   string // physical path on the active root
	Shadow    string // physical path on the preview root, empty when not mirrored
	ShadowErr error  // best-effort shadow failure, already logged
}

// New validates the roots and builds a Mirror.
func New(opts Options) (*Mirror, error) {
	if strings.TrimSpace(opts.SourceDir) == "" || strings.TrimSpace(opts.PreviewDir) == "" {
		return nil, apperrors.New(apperrors.ErrCodeConfigInvalid, "source and preview roots are required")
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModeLocal
	}
	if mode != ModeLocal && mode != ModeGit {
		return nil, apperrors.New(apperrors.ErrCodeConfigInvalid, "unknown source mode").WithContext("mode", mode)
	}
	return &Mirror{
		sourceDir:  filepath.Clean(opts.SourceDir),
		previewDir: filepath.Clean(opts.PreviewDir),
		mode:       mode,
		fs:         afs.New(),
		logger:     logging.For(opts.Logger, logging.CategoryMirror),
	}, nil
}

// Mode returns the configured source mode.
func (m *Mirror) Mode() SourceMode { return m.mode }

// SourceDir returns the source root.
func (m *Mirror) SourceDir() string { return m.sourceDir }

// PreviewDir returns the preview root.
func (m *Mirror) PreviewDir() string { return m.previewDir }

// ActiveRoot is the root reads, listings and primary writes resolve against.
func (m *Mirror) ActiveRoot() string {
	if m.mode == ModeGit {
		return m.previewDir
	}
	return m.sourceDir
}

// Mirrored reports whether mutations are duplicated onto the preview root.
func (m *Mirror) Mirrored() bool {
	return m.mode == ModeLocal && m.sourceDir != m.previewDir
}

// Resolve maps a logical path to its physical path under the active root.
func (m *Mirror) Resolve(logical string) (string, error) {
	rel, err := cleanLogical(logical, false)
	if err != nil {
		return "", err
	}
	return join(m.ActiveRoot(), rel), nil
}

// Read returns the file content from the active root.
func (m *Mirror) Read(ctx context.Context, logical string) ([]byte, error) {
	rel, err := cleanLogical(logical, false)
	if err != nil {
		return nil, withOp(err, OpRead, logical)
	}
	target := join(m.ActiveRoot(), rel)

	exists, err := m.fs.Exists(ctx, target)
	if err != nil {
		return nil, fsError(err, apperrors.ErrCodeFSRead, OpRead, rel)
	}
	if !exists {
		return nil, notFound(OpRead, rel)
	}
	data, err := m.fs.DownloadWithURL(ctx, target)
	if err != nil {
		return nil, fsError(err, apperrors.ErrCodeFSRead, OpRead, rel)
	}
	return data, nil
}

// Write stores content on the active root, creating parent directories,
// then mirrors it onto the preview root in local mode. Only the primary
// write can fail the call.
func (m *Mirror) Write(ctx context.Context, logical string, content []byte) (Result, error) {
	rel, err := cleanLogical(logical, false)
	if err != nil {
		return Result{}, withOp(err, OpWrite, logical)
	}
	res := Result{Path: rel, Primary: join(m.ActiveRoot(), rel)}

	if err := m.upload(ctx, res.Primary, content); err != nil {
		return res, fsError(err, apperrors.ErrCodeFSWrite, OpWrite, rel)
	}

	if m.Mirrored() {
		res.Shadow = join(m.previewDir, rel)
		if err := m.upload(ctx, res.Shadow, content); err != nil {
			res.ShadowErr = fsError(err, apperrors.ErrCodeFSWrite, OpWrite, rel).WithContext("root", "preview")
			m.logger.Warn("preview mirror write failed", "path", rel, "error", err)
		}
	}
	return res, nil
}

// Delete removes the file from the active root and, in local mode, from the
// preview root when present there.
func (m *Mirror) Delete(ctx context.Context, logical string) (Result, error) {
	rel, err := cleanLogical(logical, false)
	if err != nil {
		return Result{}, withOp(err, OpDelete, logical)
	}
	res := Result{Path: rel, Primary: join(m.ActiveRoot(), rel)}

	exists, err := m.fs.Exists(ctx, res.Primary)
	if err != nil {
		return res, fsError(err, apperrors.ErrCodeFSDelete, OpDelete, rel)
	}
	if !exists {
		return res, notFound(OpDelete, rel)
	}
	if err := m.fs.Delete(ctx, res.Primary); err != nil {
		return res, fsError(err, apperrors.ErrCodeFSDelete, OpDelete, rel)
	}

	if m.Mirrored() {
		res.Shadow = join(m.previewDir, rel)
		if err := m.deleteIfExists(ctx, res.Shadow); err != nil {
			res.ShadowErr = fsError(err, apperrors.ErrCodeFSDelete, OpDelete, rel).WithContext("root", "preview")
			m.logger.Warn("preview mirror delete failed", "path", rel, "error", err)
		}
	}
	return res, nil
}

func (m *Mirror) upload(ctx context.Context, target string, content []byte) error {
	dir := filepath.Dir(target)
	exists, err := m.fs.Exists(ctx, dir)
	if err != nil {
		return err
	}
	if !exists {
		if err := m.fs.Create(ctx, dir, file.DefaultDirOsMode, true); err != nil {
			return err
		}
	}
	return m.fs.Upload(ctx, target, file.DefaultFileOsMode, bytes.NewReader(content))
}

func (m *Mirror) deleteIfExists(ctx context.Context, target string) error {
	exists, err := m.fs.Exists(ctx, target)
	if err != nil || !exists {
		return err
	}
	return m.fs.Delete(ctx, target)
}

// cleanLogical normalizes a client supplied path to a slash separated path
// relative to a root. Leading separators are dropped; anything that climbs
// out of the root is rejected.
func cleanLogical(logical string, allowRoot bool) (string, error) {
	p := strings.TrimSpace(filepath.ToSlash(logical))
	p = strings.TrimLeft(p, "/")
	if p == "" {
		if allowRoot {
			return "", nil
		}
		return "", apperrors.New(apperrors.ErrCodeInvalidInput, "file path is required")
	}
	if strings.ContainsRune(p, 0) {
		return "", apperrors.New(apperrors.ErrCodeInvalidInput, "file path contains NUL")
	}
	p = path.Clean(p)
	if p == "." {
		if allowRoot {
			return "", nil
		}
		return "", apperrors.New(apperrors.ErrCodeInvalidInput, "file path is required")
	}
	if p == ".." || strings.HasPrefix(p, "../") {
		return "", apperrors.New(apperrors.ErrCodeInvalidInput, "file path escapes the workspace root").
			WithContext("path", logical)
	}
	return p, nil
}

func join(root, rel string) string {
	if rel == "" {
		return root
	}
	return filepath.Join(root, filepath.FromSlash(rel))
}

func withOp(err error, op, logical string) error {
	if e, ok := apperrors.As(err); ok {
		return e.WithContext("op", op).WithContext("path", logical)
	}
	return err
}

func notFound(op, rel string) *apperrors.Error {
	return apperrors.Wrap(os.ErrNotExist, apperrors.ErrCodeFSNotFound, "file not found").
		WithContext("op", op).
		WithContext("path", rel).
		WithUserMessage("File not found: " + rel)
}

func fsError(err error, code apperrors.ErrorCode, op, rel string) *apperrors.Error {
	if os.IsNotExist(err) {
		return notFound(op, rel)
	}
	msg := op + " failed"
	return apperrors.Wrap(err, code, msg).
		WithContext("op", op).
		WithContext("path", rel)
}
