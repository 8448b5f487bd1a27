// internal/types/models.go
package types

import (
	"strings"
	"time"
)

// Status is the pipeline position of a meeting record.
type Status string

const (
	StatusRecordingLive      Status = "recording_live"
	StatusProcessingASR      Status = "processing_asr"
	StatusProcessingAnalysis Status = "processing_analysis"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
)

// transitions lists the forward edges of the meeting state machine.
var transitions = map[Status][]Status{
	StatusProcessingASR:      {StatusProcessingAnalysis, StatusFailed},
	StatusRecordingLive:      {StatusProcessingAnalysis, StatusFailed},
	StatusProcessingAnalysis: {StatusCompleted, StatusFailed},
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusRecordingLive, StatusProcessingASR, StatusProcessingAnalysis, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

type Segment struct {
	ID          string  `json:"id"`
	SpeakerID   string  `json:"speaker_id"`
	SpeakerName string  `json:"speaker_name"`
	Start       float64 `json:"start_time"`
	End         float64 `json:"end_time"`
	Text        string  `json:"text"`
	Language    string  `json:"language"`
}

type Meeting struct {
	ID          MeetingID `json:"id"`
	Title       string    `json:"title"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Status      Status    `json:"status"`
	Transcript  string    `json:"transcript"`
	Segments    []Segment `json:"segments"`
	Languages   []string  `json:"languages"`
	Summary     string    `json:"summary"`
	ActionItems []string  `json:"action_items"`
	Decisions   []string  `json:"decisions"`
	ReportPath  string    `json:"report_path,omitempty"`
}

// Normalize replaces nil slices with empty ones so records always
// serialize lists as [] and timestamps as UTC.
func (m *Meeting) Normalize() {
	if m.Segments == nil {
		m.Segments = []Segment{}
	}
	if m.Languages == nil {
		m.Languages = []string{}
	}
	if m.ActionItems == nil {
		m.ActionItems = []string{}
	}
	if m.Decisions == nil {
		m.Decisions = []string{}
	}
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
}

// FullText returns the flat transcript, falling back to the joined
// segment text while a live recording is still accumulating.
func (m *Meeting) FullText() string {
	if m.Transcript != "" {
		return m.Transcript
	}
	return JoinSegments(m.Segments)
}

// JoinSegments collapses segment text into a single space-separated string.
func JoinSegments(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// SegmentLanguages returns the distinct known languages of segments in
// first-seen order.
func SegmentLanguages(segments []Segment) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, seg := range segments {
		lang := seg.Language
		if lang == "" || lang == "unknown" || seen[lang] {
			continue
		}
		seen[lang] = true
		out = append(out, lang)
	}
	return out
}

// TranscriptResult is what the speech recognizer returns for one audio input.
type TranscriptResult struct {
	Text      string    `json:"text"`
	Languages []string  `json:"languages"`
	Segments  []Segment `json:"segments,omitempty"`
}

// Analysis is what the summarizer returns for one transcript.
type Analysis struct {
	Summary     string   `json:"summary"`
	ActionItems []string `json:"action_items"`
	Decisions   []string `json:"decisions"`
}
