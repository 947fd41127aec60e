// Package workspace resolves where the channel files of one source live:
// final channels in the output directory, intermediary and alternative ones
// in a removable working directory.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mattjoyce/stimforge/internal/funscript"
)

const (
	// Ext is the channel file extension.
	Ext = ".funscript"
	// DefaultTempDirName is created beside the source when no working
	// directory is configured.
	DefaultTempDirName = "funscript-temp"
	lockName           = ".lock"
)

// Namespace is the set of paths for one source file.
type Namespace struct {
	Base      string
	SourceDir string
	OutputDir string
	TempDir   string
}

// CleanupReport summarizes a cleanup run.
type CleanupReport struct {
	RemovedFiles int
}

// New builds the namespace for sourcePath. Empty outputDir means the source
// directory; empty tempDir means SourceDir/funscript-temp. Relative
// directories resolve against the source directory.
func New(sourcePath, outputDir, tempDir string) (*Namespace, error) {
	trimmed := strings.TrimSpace(sourcePath)
	if trimmed == "" {
		return nil, fmt.Errorf("source path is empty")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve source path: %w", err)
	}
	name := filepath.Base(abs)
	if !strings.HasSuffix(name, Ext) || name == Ext {
		return nil, fmt.Errorf("source %q is not a %s file", name, Ext)
	}

	ns := &Namespace{
		Base:      strings.TrimSuffix(name, Ext),
		SourceDir: filepath.Dir(abs),
	}
	ns.OutputDir = ns.resolveDir(outputDir, ns.SourceDir)
	ns.TempDir = ns.resolveDir(tempDir, filepath.Join(ns.SourceDir, DefaultTempDirName))
	return ns, nil
}

func (n *Namespace) resolveDir(dir, fallback string) string {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return fallback
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(n.SourceDir, dir)
	}
	return filepath.Clean(dir)
}

// Source is the primary source file.
func (n *Namespace) Source() string {
	return filepath.Join(n.SourceDir, n.Base+Ext)
}

// FileName is "{base}.{role}.funscript".
func (n *Namespace) FileName(role string) string {
	return n.Base + "." + role + Ext
}

// OutputPath is where a final channel is written.
func (n *Namespace) OutputPath(role string) string {
	return filepath.Join(n.OutputDir, n.FileName(role))
}

// TempPath is where an intermediary or alternative channel is written.
func (n *Namespace) TempPath(role string) string {
	return filepath.Join(n.TempDir, n.FileName(role))
}

// AuxiliaryPath is where a user-supplied override for role would sit.
func (n *Namespace) AuxiliaryPath(role string) string {
	return filepath.Join(n.SourceDir, n.FileName(role))
}

// LockPath is the single-writer lock for this namespace.
func (n *Namespace) LockPath() string {
	return filepath.Join(n.TempDir, lockName)
}

// Prepare creates the output and working directories.
func (n *Namespace) Prepare(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, dir := range []string{n.OutputDir, n.TempDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Exists reports whether path is an existing regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// CopyAuxiliary copies the user's override for role to dst byte for byte.
// When dst already is the auxiliary file nothing is copied.
func (n *Namespace) CopyAuxiliary(ctx context.Context, role, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src := n.AuxiliaryPath(role)
	if samePath(src, dst) {
		return nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read auxiliary %s: %w", src, err)
	}
	if err := funscript.WriteFileAtomic(dst, data); err != nil {
		return fmt.Errorf("copy auxiliary %s to %s: %w", src, dst, err)
	}
	return nil
}

func samePath(a, b string) bool {
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	ai, errA := os.Stat(a)
	bi, errB := os.Stat(b)
	return errA == nil && errB == nil && os.SameFile(ai, bi)
}

// Cleanup removes the working directory's channel files and then the
// directory itself when it is empty. Files this namespace does not own are
// left alone, as is a working directory that coincides with the output
// directory.
func (n *Namespace) Cleanup(ctx context.Context) (CleanupReport, error) {
	if err := ctx.Err(); err != nil {
		return CleanupReport{}, err
	}
	report := CleanupReport{}
	if samePath(n.TempDir, n.OutputDir) || samePath(n.TempDir, n.SourceDir) {
		return report, nil
	}

	entries, err := os.ReadDir(n.TempDir)
	if os.IsNotExist(err) {
		return report, nil
	}
	if err != nil {
		return report, fmt.Errorf("read working directory: %w", err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		name := entry.Name()
		if _, ok := roleOf(name, n.Base); entry.IsDir() || !ok {
			continue
		}
		if err := os.Remove(filepath.Join(n.TempDir, name)); err != nil {
			return report, fmt.Errorf("remove %s: %w", name, err)
		}
		report.RemovedFiles++
	}

	// ENOTEMPTY matches fs.ErrExist: other sources still use the directory.
	if err := os.Remove(n.TempDir); err != nil && !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, fs.ErrExist) {
		return report, fmt.Errorf("remove working directory: %w", err)
	}
	return report, nil
}

// roleOf extracts role from "{base}.{role}.funscript".
func roleOf(name, base string) (string, bool) {
	prefix := base + "."
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, Ext) || len(name) <= len(prefix)+len(Ext) {
		return "", false
	}
	role := strings.TrimSuffix(strings.TrimPrefix(name, prefix), Ext)
	if ValidateRole(role) != nil {
		return "", false
	}
	return role, true
}

// Channels lists the roles of every "{base}.{role}.funscript" file in dir,
// sorted by role.
func Channels(dir, base string) (map[string]string, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read channel directory: %w", err)
	}
	paths := make(map[string]string)
	for _, entry := range entries {
		role, ok := roleOf(entry.Name(), base)
		if entry.IsDir() || !ok {
			continue
		}
		paths[role] = filepath.Join(dir, entry.Name())
	}
	roles := make([]string, 0, len(paths))
	for role := range paths {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return paths, roles, nil
}

// ValidateRole rejects role names that cannot form a single file name
// component.
func ValidateRole(role string) error {
	trimmed := strings.TrimSpace(role)
	if trimmed == "" {
		return fmt.Errorf("role is empty")
	}
	if trimmed != role || trimmed == "." || trimmed == ".." {
		return fmt.Errorf("role %q is invalid", role)
	}
	if strings.ContainsAny(trimmed, `/\`) {
		return fmt.Errorf("role %q must not contain path separators", role)
	}
	if strings.Contains(trimmed, ".") {
		return fmt.Errorf("role %q must not contain dots", role)
	}
	return nil
}
