package drafts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

const draftExt = ".md"

// Store owns the on-disk layout <base>/<platform>/{drafts,done,declined}/<fileId>.md.
// Callers never build paths themselves.
type Store struct {
	base string
}

func NewStore(base string) *Store {
	return &Store{base: filepath.Clean(base)}
}

// Base is the outreach base directory.
func (s *Store) Base() string {
	return s.base
}

// Check reports whether the outreach base exists and is a directory.
func (s *Store) Check() error {
	info, err := os.Stat(s.base)
	if err != nil {
		return fmt.Errorf("outreach base: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("outreach base %s is not a directory", s.base)
	}
	return nil
}

// Dir returns the folder that holds drafts of platform p in state st.
func (s *Store) Dir(p Platform, st State) string {
	return filepath.Join(s.base, string(p), st.dir())
}

// Raw is a draft file's content and modification time.
type Raw struct {
	Content []byte
	ModTime time.Time
}

func validFileID(fileID string) bool {
	if fileID == "" || fileID == "." || fileID == ".." {
		return false
	}
	if strings.ContainsAny(fileID, `/\`) || strings.Contains(fileID, "..") {
		return false
	}
	return !strings.ContainsRune(fileID, 0)
}

func (s *Store) path(p Platform, st State, fileID string) (string, error) {
	if !validFileID(fileID) {
		return "", fmt.Errorf("%w: %s:%s", ErrNotFound, p, fileID)
	}
	return filepath.Join(s.Dir(p, st), fileID+draftExt), nil
}

// List returns the file ids (file names without .md) in one state folder,
// sorted. A missing folder is an empty list.
func (s *Store) List(p Platform, st State) ([]string, error) {
	entries, err := os.ReadDir(s.Dir(p, st))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s/%s: %w", p, st.dir(), err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, draftExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, draftExt))
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) ListPending(p Platform) ([]string, error)   { return s.List(p, Pending) }
func (s *Store) ListCompleted(p Platform) ([]string, error) { return s.List(p, Done) }
func (s *Store) ListDeclined(p Platform) ([]string, error)  { return s.List(p, Declined) }

// Count is len(List) without building the slice for callers that only count.
func (s *Store) Count(p Platform, st State) (int, error) {
	ids, err := s.List(p, st)
	return len(ids), err
}

// ReadRaw reads a pending draft.
func (s *Store) ReadRaw(p Platform, fileID string) (Raw, error) {
	return s.read(p, Pending, fileID)
}

func (s *Store) read(p Platform, st State, fileID string) (Raw, error) {
	path, err := s.path(p, st, fileID)
	if err != nil {
		return Raw{}, err
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Raw{}, fmt.Errorf("%w: %s:%s", ErrNotFound, p, fileID)
	}
	if err != nil {
		return Raw{}, err
	}
	if info.IsDir() {
		return Raw{}, fmt.Errorf("%w: %s:%s", ErrNotFound, p, fileID)
	}
	content, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Raw{}, fmt.Errorf("%w: %s:%s", ErrNotFound, p, fileID)
	}
	if err != nil {
		return Raw{}, err
	}
	return Raw{Content: content, ModTime: info.ModTime()}, nil
}

// Locate reports which state folder currently holds fileID.
func (s *Store) Locate(p Platform, fileID string) (State, error) {
	for _, st := range []State{Pending, Done, Declined} {
		path, err := s.path(p, st, fileID)
		if err != nil {
			return "", err
		}
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %s:%s", ErrNotFound, p, fileID)
}

// Move relocates the file from one state folder to another, creating the
// destination folder. A missing source, including one that a concurrent
// caller has just moved, is ErrNotFound. An existing file of the same name in
// the destination is never replaced: that is ErrConflict.
func (s *Store) Move(p Platform, fileID string, from, to State) error {
	src, err := s.path(p, from, fileID)
	if err != nil {
		return err
	}
	dst, err := s.path(p, to, fileID)
	if err != nil {
		return err
	}
	notFound := fmt.Errorf("%w: %s:%s not %s", ErrNotFound, p, fileID, from)

	if _, err := os.Lstat(src); errors.Is(err, fs.ErrNotExist) {
		return notFound
	} else if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create %s folder: %w", to.dir(), err)
	}

	// link then unlink: unlike rename, link refuses to overwrite
	err = os.Link(src, dst)
	switch {
	case err == nil:
		if err := os.Remove(src); err != nil && !errors.Is(err, fs.ErrNotExist) {
			_ = os.Remove(dst)
			return fmt.Errorf("move %s:%s to %s: %w", p, fileID, to, err)
		}
		return nil
	case errors.Is(err, fs.ErrExist):
		return s.moveCollision(src, dst, notFound, p, fileID, to)
	case errors.Is(err, fs.ErrNotExist):
		return notFound
	}

	// filesystems without hard links
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("%w: %s:%s already in %s", ErrConflict, p, fileID, to.dir())
	}
	if err := os.Rename(src, dst); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return notFound
		}
		return fmt.Errorf("move %s:%s to %s: %w", p, fileID, to, err)
	}
	return nil
}

// moveCollision sorts out a link that found dst taken. When dst is src itself
// another caller is mid-move and this one lost the race.
func (s *Store) moveCollision(src, dst string, notFound error, p Platform, fileID string, to State) error {
	srcInfo, err := os.Lstat(src)
	if errors.Is(err, fs.ErrNotExist) {
		return notFound
	} else if err != nil {
		return err
	}
	if dstInfo, err := os.Lstat(dst); err == nil && os.SameFile(srcInfo, dstInfo) {
		return notFound
	}
	return fmt.Errorf("%w: %s:%s already in %s", ErrConflict, p, fileID, to.dir())
}

var (
	scheduledLine = regexp.MustCompile(`(?m)^[ \t]*\*\*Scheduled:\*\*.*$`)
	createdLine   = regexp.MustCompile(`(?m)^[ \t]*\*\*Created:\*\*.*$`)
	titleLine     = regexp.MustCompile(`(?m)^#[ \t]+.*$`)
)

// FormatSchedule is the canonical text written into a **Scheduled:** marker.
func FormatSchedule(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// RewriteScheduleMarker sets the draft's **Scheduled:** line to t, replacing an
// existing marker or inserting one after **Created:**, else after the title,
// else at the top. Applying the same t twice yields identical bytes.
func (s *Store) RewriteScheduleMarker(p Platform, fileID string, t time.Time) error {
	path, err := s.path(p, Pending, fileID)
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s:%s", ErrNotFound, p, fileID)
	}
	if err != nil {
		return err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s:%s", ErrNotFound, p, fileID)
		}
		return err
	}

	updated := setScheduleMarker(string(content), "**Scheduled:** "+FormatSchedule(t))
	if updated == string(content) {
		return nil
	}
	return writeFileAtomic(path, []byte(updated), info.Mode().Perm())
}

func setScheduleMarker(text, marker string) string {
	if loc := scheduledLine.FindStringIndex(text); loc != nil {
		old := text[loc[0]:loc[1]]
		repl := marker
		if strings.HasSuffix(old, "\r") {
			repl += "\r"
		}
		return text[:loc[0]] + repl + text[loc[1]:]
	}

	for _, anchor := range []*regexp.Regexp{createdLine, titleLine} {
		if loc := anchor.FindStringIndex(text); loc != nil {
			end := loc[1]
			nl := "\n"
			if strings.HasSuffix(text[loc[0]:end], "\r") {
				nl = "\r\n"
			}
			if end < len(text) && text[end] == '\n' {
				end++
			} else {
				// anchor is the last line without a trailing newline
				return text + nl + marker
			}
			return text[:end] + marker + nl + text[end:]
		}
	}

	return marker + "\n" + text
}

// writeFileAtomic writes to a temp file in the same folder and renames it over
// path. The temp name starts with a dot so listings skip it.
func writeFileAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
