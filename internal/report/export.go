package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/user/notetaker/internal/types"
)

// Exporter renders meetings and keeps the latest rendering of each under
// its reports directory.
type Exporter struct {
	store types.MeetingStore
	dir   string
}

// NewExporter creates an Exporter writing into dir.
func NewExporter(store types.MeetingStore, dir string) *Exporter {
	return &Exporter{store: store, dir: dir}
}

// Document is a rendered export.
type Document struct {
	Path        string
	Filename    string
	ContentType string
	Body        []byte
}

// Export renders meeting id as f, writes it to reports/<id>.<ext> and
// records the path on the meeting.
func (e *Exporter) Export(ctx context.Context, id types.MeetingID, f Format) (*Document, error) {
	m, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	body, err := Render(m, f)
	if err != nil {
		return nil, err
	}

	name := fmt.Sprintf("%s.%s", id, f)
	path := filepath.Join(e.dir, name)
	if err := writeAtomic(path, body); err != nil {
		return nil, &types.PersistenceError{Op: "write report", Err: err}
	}
	if err := e.store.SetReportPath(ctx, id, path); err != nil {
		return nil, fmt.Errorf("record report path: %w", err)
	}

	return &Document{
		Path:        path,
		Filename:    fmt.Sprintf("meeting_%s_report.%s", id, f),
		ContentType: f.ContentType(),
		Body:        body,
	}, nil
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
