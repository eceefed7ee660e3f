package avplay

// A pipeline bundles the codec-side resources owned while a single media is
// loaded. The three shapes are kept as distinct types instead of one
// interface with optional parts: their resource sets genuinely differ, and
// the loops switch on the shape to pick their algorithm.
//
// close releases every owned component in reverse construction order,
// propagating the first error while still attempting the remainder.
type pipeline interface {
	close() error
}

type audioPipeline struct {
	decoder Decoder
	buffer  *FrameBuffer[Frame]
	sampler Sampler
}

func (p *audioPipeline) close() error {
	first := p.sampler.Close()
	p.buffer.Close()
	if err := p.decoder.Close(); first == nil {
		first = err
	}
	return first
}

type videoPipeline struct {
	decoder Decoder
	pool    *BlockPool
	buffer  *FrameBuffer[Frame]
}

func (p *videoPipeline) close() error {
	p.pool.Close()
	p.buffer.Close()
	return p.decoder.Close()
}

type audioVideoPipeline struct {
	audioDecoder Decoder
	videoDecoder Decoder
	audioBuffer  *FrameBuffer[Frame]
	videoBuffer  *FrameBuffer[Frame]
	videoPool    *BlockPool
	sampler      Sampler
}

func (p *audioVideoPipeline) close() error {
	first := p.sampler.Close()
	p.videoPool.Close()
	p.videoBuffer.Close()
	p.audioBuffer.Close()
	if err := p.videoDecoder.Close(); first == nil {
		first = err
	}
	if err := p.audioDecoder.Close(); first == nil {
		first = err
	}
	return first
}
