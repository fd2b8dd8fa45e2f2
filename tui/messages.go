package tui

import (
	"time"

	"github.com/bosley/recordnote/session"
)

// SnapshotMsg delivers a published session snapshot.
type SnapshotMsg struct {
	Snapshot session.Snapshot
}

// commandDoneMsg carries the outcome of a session command.
type commandDoneMsg struct {
	Err error
}

// savedMsg reports where the document was written.
type savedMsg struct {
	Path string
}

// tickMsg refreshes the elapsed time and input level while recording.
type tickMsg time.Time

// clearNoticeMsg clears a transient command error.
type clearNoticeMsg struct{}
