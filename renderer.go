package avplay

// A Renderer is the video presentation sink. Present hands over one decoded
// frame; implementations swap it into their display surface atomically and
// must not retain frame.Data after returning, since the playback loop gives
// the backing block back to the pool immediately.
//
// Renderers are attached and detached on the controller at any time; the
// playback loop observes the change between frames.
type Renderer interface {
	Present(frame VideoFrame) error
}
