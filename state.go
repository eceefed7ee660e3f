package avplay

import "github.com/google/uuid"

// Stage is the coarse lifecycle of a [Controller]: no media loaded, an
// asynchronous prepare in flight, or media loaded and ready for playback
// commands.
type Stage uint8

const (
	StageEmpty Stage = iota
	StagePreparing
	StageReady
)

// Returns a string representation of the stage
// ("Empty", "Preparing", "Ready", "Unknown").
func (s Stage) String() string {
	switch s {
	case StageEmpty:
		return "Empty"
	case StagePreparing:
		return "Preparing"
	case StageReady:
		return "Ready"
	default:
		return "Unknown"
	}
}

// Status is the playback status within [StageReady]. It is meaningless in
// other stages.
type Status uint8

const (
	StatusTransition Status = iota
	StatusPlaying
	StatusPaused
	StatusStopped
	StatusCompleted
	StatusSeeking
	StatusReleasing
)

// Returns a string representation of the playback status.
func (s Status) String() string {
	switch s {
	case StatusTransition:
		return "Transition"
	case StatusPlaying:
		return "Playing"
	case StatusPaused:
		return "Paused"
	case StatusStopped:
		return "Stopped"
	case StatusCompleted:
		return "Completed"
	case StatusSeeking:
		return "Seeking"
	case StatusReleasing:
		return "Releasing"
	default:
		return "Unknown"
	}
}

// State is the externally observable controller state. Media and Session are
// only meaningful while Stage is [StageReady]; Status additionally covers the
// short-lived [StatusReleasing] window on the way back to [StageEmpty].
type State struct {
	Stage   Stage
	Status  Status
	Media   *Media
	Session uuid.UUID
}
