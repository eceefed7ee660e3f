package avplay

import "time"

// A Command is one of the controller's serialized operations, passed to
// [Controller.Execute]. Commands arriving in a status they are not defined
// for are silently dropped: that is the engine's rule for reconciling fast
// user input with a transitioning pipeline.
type Command interface {
	isCommand()
}

// Prepare probes the media at Location and constructs the decoding pipeline.
// Only acted on while the controller is [StageEmpty].
type Prepare struct {
	Location string

	// AudioBufferSize and VideoBufferSize are the bounded buffer capacities
	// in frames. The video value also sizes the frame-data pool. A size may
	// be zero only if the media ends up not carrying that stream.
	AudioBufferSize int
	VideoBufferSize int

	// HardwareAccelerationCandidates lists decoder backends to try in
	// order. Decoders may ignore it.
	HardwareAccelerationCandidates []string
}

// Play starts playback from [StatusStopped].
type Play struct{}

// Pause suspends presentation while the buffer loop keeps decoding ahead.
type Pause struct{}

// Resume continues playback from [StatusPaused].
type Resume struct{}

// Stop halts playback and rewinds the decoders to the start.
type Stop struct{}

// SeekTo repositions playback. The command ends in [StatusPaused] with both
// timestamps at the position the decoders actually landed on.
type SeekTo struct {
	Position      time.Duration
	KeyframesOnly bool
}

// Release tears the current session down and returns to [StageEmpty]. It
// cancels whatever command is currently executing.
type Release struct{}

func (Prepare) isCommand() {}
func (Play) isCommand()    {}
func (Pause) isCommand()   {}
func (Resume) isCommand()  {}
func (Stop) isCommand()    {}
func (SeekTo) isCommand()  {}
func (Release) isCommand() {}
