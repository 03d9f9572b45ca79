package pkg

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/clawdops/outreach-desk/internal/drafts"
	"github.com/clawdops/outreach-desk/internal/poster"
)

// StateDirs are created under every platform folder.
var StateDirs = []string{"drafts", "done", "declined"}

// EnsureLayout creates <base>/<platform>/{drafts,done,declined} and returns
// the directories it had to create.
func EnsureLayout(base string, platforms []drafts.Platform) ([]string, error) {
	var created []string
	for _, p := range platforms {
		for _, d := range StateDirs {
			dir := filepath.Join(base, string(p), d)
			if st, err := os.Stat(dir); err == nil {
				if !st.IsDir() {
					return created, fmt.Errorf("%s exists and is not a directory", dir)
				}
				continue
			} else if !errors.Is(err, fs.ErrNotExist) {
				return created, fmt.Errorf("stat: %w", err)
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return created, fmt.Errorf("mkdir: %w", err)
			}
			created = append(created, dir)
		}
	}
	return created, nil
}

// WriteManifest writes m as YAML to path. An existing file is kept unless
// overwrite is set; the returned bool reports whether anything was written.
func WriteManifest(path string, m *poster.Manifest, overwrite bool) (bool, error) {
	mode := fs.FileMode(0o644)
	if st, err := os.Stat(path); err == nil {
		if !overwrite {
			return false, nil
		}
		mode = st.Mode()
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("stat: %w", err)
	}

	data, err := m.Marshal()
	if err != nil {
		return false, fmt.Errorf("marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("mkdir: %w", err)
	}
	if err := writeFileAtomic(path, data, mode); err != nil {
		return false, fmt.Errorf("atomic write: %w", err)
	}
	return true, nil
}

// EnsureEnvTemplate writes an empty credentials file listing the keys a
// platform needs, so the operator only fills in values. Existing files are
// left alone.
func EnsureEnvTemplate(path string, keys []string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("stat: %w", err)
	}

	var content []byte
	for _, k := range keys {
		content = append(content, k+"=\n"...)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("mkdir: %w", err)
	}
	if err := writeFileAtomic(path, content, 0o600); err != nil {
		return false, fmt.Errorf("atomic write: %w", err)
	}
	return true, nil
}

func writeFileAtomic(path string, content []byte, mode fs.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	tmp, err := os.CreateTemp(dir, "."+base+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		_ = os.Remove(tmpName)
	}

	if err := tmp.Chmod(mode); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp: %w", err)
	}
	if _, err := tmp.Write(content); err != nil {
		cleanup()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}

	// best effort
	_ = fsyncDir(dir)
	return nil
}

func fsyncDir(dir string) error {
	df, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer df.Close()
	return df.Sync()
}
