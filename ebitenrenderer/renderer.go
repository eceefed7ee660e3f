// Package ebitenrenderer implements the engine's renderer contract for
// Ebitengine games: presented frames are written into a single reused
// [ebiten.Image] that the game draws every tick.
package ebitenrenderer

import (
	"fmt"
	"image/color"
	"sync"

	"github.com/hajimehoshi/ebiten/v2"

	avplay "github.com/erparts/go-avplay"
)

// A Renderer swaps presented video frames into a reused image. It starts on
// a black frame and reverts to black on [Renderer.Clear], so a stopped
// player shows black instead of a stale picture.
type Renderer struct {
	mu     sync.Mutex
	img    *ebiten.Image
	pixels int
	black  bool
}

var _ avplay.Renderer = (*Renderer)(nil)

// New creates a renderer for frames of the given resolution, typically taken
// from the prepared media's VideoFormat.
func New(width, height int) *Renderer {
	img := ebiten.NewImage(width, height)
	img.Fill(color.Black)
	return &Renderer{img: img, pixels: width * height * 4, black: true}
}

// Present swaps the frame's pixels in. The frame data is copied before
// returning, as the backing block goes back to the engine's pool.
func (r *Renderer) Present(frame avplay.VideoFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(frame.Data) < r.pixels {
		return fmt.Errorf("frame data holds %d bytes, renderer expects %d", len(frame.Data), r.pixels)
	}
	r.img.WritePixels(frame.Data[:r.pixels])
	r.black = false
	return nil
}

// Frame returns the image holding the most recently presented frame.
//
// The image is reused: it is valid to draw it every tick, but keeping a
// reference and expecting its contents to stay stable is not.
func (r *Renderer) Frame() *ebiten.Image {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.img
}

// Clear resets the renderer to the initial black frame.
func (r *Renderer) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.black {
		r.img.Fill(color.Black)
		r.black = true
	}
}

// Resolution returns the width and height the renderer was created for.
func (r *Renderer) Resolution() (int, int) {
	bounds := r.img.Bounds()
	return bounds.Dx(), bounds.Dy()
}
