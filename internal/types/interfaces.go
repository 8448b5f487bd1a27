// internal/types/interfaces.go
package types

import "context"

type MeetingStore interface {
	Create(ctx context.Context, id MeetingID, title string, status Status) (*Meeting, error)
	Get(ctx context.Context, id MeetingID) (*Meeting, error)
	List(ctx context.Context) ([]*Meeting, error)
	UpdateTitle(ctx context.Context, id MeetingID, title string) error
	UpdateTranscript(ctx context.Context, id MeetingID, result *TranscriptResult) (*Meeting, error)
	AppendSegment(ctx context.Context, id MeetingID, segment Segment) error
	Finalize(ctx context.Context, id MeetingID) (*Meeting, error)
	UpdateAnalysis(ctx context.Context, id MeetingID, analysis *Analysis) (*Meeting, error)
	Fail(ctx context.Context, id MeetingID, reason string) (*Meeting, error)
	SetStatus(ctx context.Context, id MeetingID, status Status) (*Meeting, error)
	SetReportPath(ctx context.Context, id MeetingID, path string) error
	Delete(ctx context.Context, id MeetingID) (int, error)
	Search(ctx context.Context, query string) ([]*Meeting, error)
}

// Transcriber turns an audio file into text. Implementations must be safe
// for concurrent use across meetings.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (*TranscriptResult, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, transcript string) (*Analysis, error)
}

type Indexer interface {
	Upsert(ctx context.Context, id MeetingID, segments []Segment) error
	Delete(ctx context.Context, id MeetingID) error
}

type Asker interface {
	Ask(ctx context.Context, id MeetingID, question string) (string, error)
}
