package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var networkFilesystems = []string{"nfs", "cifs", "smbfs", "smb2", "afpfs", "webdav"}

// requireLocalFilesystem refuses ledger paths on network mounts, where
// SQLite locking is unreliable. An undetectable filesystem is allowed.
func requireLocalFilesystem(path string, detect func(string) (string, error)) error {
	probe, err := existingAncestor(path)
	if err != nil {
		return fmt.Errorf("resolve ledger path %q: %w", path, err)
	}
	fsType, err := detect(probe)
	if err != nil {
		return nil
	}
	if isNetworkFilesystem(fsType) {
		return fmt.Errorf("ledger %q is on network filesystem %q; SQLite needs local disk, set state.path to a local file", path, fsType)
	}
	return nil
}

func existingAncestor(path string) (string, error) {
	candidate, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent directory")
		}
		candidate = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	fsType = strings.ToLower(strings.TrimSpace(fsType))
	for _, name := range networkFilesystems {
		if fsType == name {
			return true
		}
	}
	return false
}
