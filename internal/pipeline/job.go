package pipeline

import (
	"context"
	"time"

	"github.com/user/notetaker/internal/types"
)

// Stage names the pipeline phase a Job runs.
type Stage string

const (
	StageTranscribe Stage = "transcribe"
	StageAnalyze    Stage = "analyze"
)

// Job is one stage invocation for one meeting.
type Job struct {
	ID        types.JobID
	MeetingID types.MeetingID
	Stage     Stage

	// AudioPath is read by the transcription stage.
	AudioPath string
	// Transcript and Segments are read by the analysis stage.
	Transcript string
	Segments   []types.Segment

	CreatedAt time.Time
	Ctx       context.Context
}

// NewJob creates a Job for the given meeting and stage.
func NewJob(meetingID types.MeetingID, stage Stage) *Job {
	return &Job{
		ID:        types.NewJobID(),
		MeetingID: meetingID,
		Stage:     stage,
		CreatedAt: time.Now(),
	}
}
