// internal/state/audio.go
package state

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/user/notetaker/internal/types"
)

// AudioStore keeps uploaded recordings under uploads/<id><ext> and
// transient live chunks under chunks/.
type AudioStore struct {
	root string
}

// NewAudioStore creates a new file-backed AudioStore rooted at the given directory.
func NewAudioStore(root string) *AudioStore {
	return &AudioStore{root: root}
}

func (a *AudioStore) uploadsDir() string {
	return filepath.Join(a.root, "uploads")
}

// ChunksDir returns the directory holding transient live chunks.
func (a *AudioStore) ChunksDir() string {
	return filepath.Join(a.root, "chunks")
}

// writeFile streams r into path via a temp file and rename.
func writeFile(path string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create audio dir: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("create temp audio: %w", err)
	}
	n, err := io.Copy(f, r)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("write temp audio: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("rename temp audio: %w", err)
	}
	return n, nil
}

// PutUpload stores an uploaded recording and returns its path.
func (a *AudioStore) PutUpload(id types.MeetingID, ext string, r io.Reader) (string, error) {
	path := filepath.Join(a.uploadsDir(), string(id)+strings.ToLower(ext))
	if _, err := writeFile(path, r); err != nil {
		return "", err
	}
	return path, nil
}

// UploadPath locates the stored upload for a meeting.
func (a *AudioStore) UploadPath(id types.MeetingID) (string, error) {
	matches, err := filepath.Glob(filepath.Join(a.uploadsDir(), string(id)+".*"))
	if err != nil {
		return "", fmt.Errorf("glob upload: %w", err)
	}
	for _, m := range matches {
		if !strings.HasSuffix(m, ".tmp") {
			return m, nil
		}
	}
	return "", fmt.Errorf("upload for %s: %w", id, types.ErrNotFound)
}

// RemoveUpload deletes a meeting's upload if one exists.
func (a *AudioStore) RemoveUpload(id types.MeetingID) error {
	path, err := a.UploadPath(id)
	if err != nil {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove upload: %w", err)
	}
	return nil
}

// PutChunk stores one live chunk under a unique name and returns its path.
func (a *AudioStore) PutChunk(id types.MeetingID, index int, ext string, r io.Reader) (string, error) {
	name := fmt.Sprintf("%s_%d_%s%s", id, index, uuid.NewString()[:8], strings.ToLower(ext))
	path := filepath.Join(a.ChunksDir(), name)
	if _, err := writeFile(path, r); err != nil {
		return "", err
	}
	return path, nil
}

// RemoveChunk deletes a chunk file. Missing files are ignored.
func (a *AudioStore) RemoveChunk(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove chunk: %w", err)
	}
	return nil
}

// SweepChunks removes chunk files last modified before cutoff and
// returns how many were removed.
func (a *AudioStore) SweepChunks(cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(a.ChunksDir())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read chunks dir: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(a.ChunksDir(), entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}
