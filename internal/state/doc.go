// Package state provides filesystem-backed storage implementations.
package state

import "github.com/user/notetaker/internal/types"

// Compile-time interface compliance checks.
var _ types.MeetingStore = (*MeetingStore)(nil)
