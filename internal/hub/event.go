// internal/hub/event.go
package hub

import "github.com/user/notetaker/internal/types"

// EventType names the kind of change an event reports.
type EventType string

const (
	EventMeetingCreated   EventType = "meeting_created"
	EventMeetingUpdated   EventType = "meeting_updated"
	EventMeetingDeleted   EventType = "meeting_deleted"
	EventTranscriptUpdate EventType = "transcript_update"
)

// Event is the wire envelope sent to observers.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

type deletedPayload struct {
	ID types.MeetingID `json:"id"`
}

type transcriptPayload struct {
	MeetingID types.MeetingID `json:"meetingId"`
	Segment   types.Segment   `json:"segment"`
}

func MeetingCreated(m *types.Meeting) Event {
	return Event{Type: EventMeetingCreated, Payload: m}
}

func MeetingUpdated(m *types.Meeting) Event {
	return Event{Type: EventMeetingUpdated, Payload: m}
}

func MeetingDeleted(id types.MeetingID) Event {
	return Event{Type: EventMeetingDeleted, Payload: deletedPayload{ID: id}}
}

func TranscriptUpdate(id types.MeetingID, seg types.Segment) Event {
	return Event{Type: EventTranscriptUpdate, Payload: transcriptPayload{MeetingID: id, Segment: seg}}
}
