// Package strip drives addressable LED strips (WS281x, SK6812 and
// friends) that receive their pixel data as a single precisely-timed
// serial bitstream. The package owns the pixel buffer and the
// transmit lifecycle; the actual pulse generation is behind the
// Channel and Encoder interfaces, with one implementation per
// hardware backend.
package strip

import (
	"errors"
	"fmt"
	"time"
)

const (
	RGB PixelFormat = iota
	GRB
	GRBW
)

type PixelFormat int

var StringFormats = map[string]PixelFormat{
	"RGB":  RGB,
	"GRB":  GRB,
	"GRBW": GRBW,
}

// offsets gives the position of the R, G, B and W bytes within one
// pixel's group of wire bytes. -1 means the channel doesn't exist.
var offsets = map[PixelFormat][4]int{
	RGB:  {0, 1, 2, -1},
	GRB:  {1, 0, 2, -1},
	GRBW: {1, 0, 2, 3},
}

// Valid reports whether f is a recognized pixel format.
func (f PixelFormat) Valid() bool {
	_, ok := offsets[f]
	return ok
}

func (f PixelFormat) BytesPerPixel() int {
	if f == GRBW {
		return 4
	}
	return 3
}

func (f PixelFormat) String() string {
	switch f {
	case RGB:
		return "RGB"
	case GRB:
		return "GRB"
	case GRBW:
		return "GRBW"
	}
	return fmt.Sprintf("PixelFormat(%d)", int(f))
}

// Model identifies the LED chip family. It only matters to encoders,
// which derive their pulse timing from it.
type Model int

const (
	ModelWS2812 Model = iota
	ModelSK6812
)

var StringModels = map[string]Model{
	"WS2812": ModelWS2812,
	"SK6812": ModelSK6812,
}

// Config describes one physical strip.
type Config struct {
	MaxLEDs   int
	Format    PixelFormat
	GPIOPin   int
	Model     Model
	InvertOut bool
}

// TransmitOptions accompany one Transmit call. LoopCount is the
// number of extra repetitions; 0 is a one-shot transmission, which is
// all Refresh ever asks for.
type TransmitOptions struct {
	LoopCount int
}

// Channel is one hardware transmission lane. Implementations are not
// safe for concurrent use; a Channel belongs to exactly one Strip.
type Channel interface {
	Enable() error
	// Transmit submits the pixel bytes, encoded by enc, for
	// asynchronous transmission.
	Transmit(enc Encoder, pixels []byte, opts TransmitOptions) error
	// WaitAllDone blocks until all submitted transmissions have
	// completed. A negative timeout waits forever.
	WaitAllDone(timeout time.Duration) error
	Disable() error
	Close() error
}

// Encoder converts raw pixel bytes into the channel's native symbol
// stream.
type Encoder interface {
	// Encode appends the symbol stream for pixels to dst and
	// returns the extended slice.
	Encode(dst, pixels []byte) ([]byte, error)
	Close() error
}

// Pixel is one LED's color. W is -1 for 3-color strips.
type Pixel struct {
	R int
	G int
	B int
	W int
}

func (p Pixel) String() string {
	if p.W != -1 {
		return fmt.Sprintf("%02x%02x%02x%02x", p.R, p.G, p.B, p.W)
	}
	return fmt.Sprintf("%02x%02x%02x", p.R, p.G, p.B)
}

// Strip is one LED strip device. The pixel buffer is laid out in
// wire order, bytesPerPixel bytes per LED, and is allocated once at
// construction; it is never resized.
type Strip struct {
	format     PixelFormat
	bpp        int
	numPixels  int
	r, g, b, w int
	pixels     []byte
	ch         Channel
	enc        Encoder
}

// New composes a Strip from an already-constructed channel and
// encoder. It does not take ownership of them on failure; the caller
// unwinds.
func New(numPixels int, format PixelFormat, ch Channel, enc Encoder) (*Strip, error) {
	offs, ok := offsets[format]
	if !ok {
		return nil, fmt.Errorf("unsupported pixel format %d: %w", int(format), ErrInvalidArgument)
	}
	if numPixels <= 0 {
		return nil, fmt.Errorf("strip needs at least one pixel, got %d: %w", numPixels, ErrInvalidArgument)
	}
	if ch == nil || enc == nil {
		return nil, fmt.Errorf("nil channel or encoder: %w", ErrInvalidArgument)
	}
	bpp := format.BytesPerPixel()
	return &Strip{
		format:    format,
		bpp:       bpp,
		numPixels: numPixels,
		r:         offs[0],
		g:         offs[1],
		b:         offs[2],
		w:         offs[3],
		pixels:    make([]byte, numPixels*bpp),
		ch:        ch,
		enc:       enc,
	}, nil
}

func (s *Strip) NumPixels() int {
	return s.numPixels
}

func (s *Strip) Format() PixelFormat {
	return s.format
}

func (s *Strip) BytesPerPixel() int {
	return s.bpp
}

// Bytes returns the pixel buffer in wire order. It's the live buffer,
// not a copy.
func (s *Strip) Bytes() []byte {
	return s.pixels
}

// SetPixel sets one pixel of a 3-color strip. Channel values are
// truncated to their low 8 bits, not clamped - callers rely on being
// able to pass wider values and keep the low byte.
func (s *Strip) SetPixel(i, red, green, blue int) error {
	if s.bpp != 3 {
		return fmt.Errorf("%v strip, use SetPixelRGBW: %w", s.format, ErrInvalidArgument)
	}
	if i < 0 || i >= s.numPixels {
		return fmt.Errorf("pixel %d out of range [0,%d): %w", i, s.numPixels, ErrInvalidArgument)
	}
	p := s.pixels[i*s.bpp:]
	p[s.r] = byte(red)
	p[s.g] = byte(green)
	p[s.b] = byte(blue)
	return nil
}

// SetPixelRGBW sets one pixel of a 4-color strip.
func (s *Strip) SetPixelRGBW(i, red, green, blue, white int) error {
	if i < 0 || i >= s.numPixels {
		return fmt.Errorf("pixel %d out of range [0,%d): %w", i, s.numPixels, ErrInvalidArgument)
	}
	if s.bpp != 4 {
		return fmt.Errorf("%v strip has no white channel: %w", s.format, ErrInvalidArgument)
	}
	p := s.pixels[i*s.bpp:]
	p[s.r] = byte(red)
	p[s.g] = byte(green)
	p[s.b] = byte(blue)
	p[s.w] = byte(white)
	return nil
}

func (s *Strip) GetPixel(i int) (Pixel, error) {
	if i < 0 || i >= s.numPixels {
		return Pixel{}, fmt.Errorf("pixel %d out of range [0,%d): %w", i, s.numPixels, ErrInvalidArgument)
	}
	p := s.pixels[i*s.bpp:]
	px := Pixel{int(p[s.r]), int(p[s.g]), int(p[s.b]), -1}
	if s.bpp == 4 {
		px.W = int(p[s.w])
	}
	return px, nil
}

// Refresh transmits the pixel buffer to the strip and blocks until
// the transmission is complete. The channel is enabled for the
// duration of the transfer and disabled again on every path except
// an enable failure (where it was never enabled), so a returned
// error never leaves the lane active.
func (s *Strip) Refresh() error {
	if err := s.ch.Enable(); err != nil {
		return &ResourceError{Op: "enable", Err: err}
	}
	if err := s.ch.Transmit(s.enc, s.pixels, TransmitOptions{LoopCount: 0}); err != nil {
		s.ch.Disable() // best effort, keep the transmit error
		return &ResourceError{Op: "transmit", Err: err}
	}
	if err := s.ch.WaitAllDone(-1); err != nil {
		s.ch.Disable() // best effort
		return &ResourceError{Op: "wait", Err: err}
	}
	if err := s.ch.Disable(); err != nil {
		return &ResourceError{Op: "disable", Err: err}
	}
	return nil
}

// Clear blacks out the buffer and immediately transmits the all-off
// frame, driving the physical strip dark.
func (s *Strip) Clear() error {
	clear(s.pixels)
	return s.Refresh()
}

// Close releases the channel and encoder. Both are always attempted;
// if either release fails the errors are reported together. The
// pixel buffer itself is ordinary memory and needs no help from us.
func (s *Strip) Close() error {
	cherr := s.ch.Close()
	encerr := s.enc.Close()
	if cherr != nil {
		cherr = &ResourceError{Op: "close channel", Err: cherr}
	}
	if encerr != nil {
		encerr = &ResourceError{Op: "close encoder", Err: encerr}
	}
	return errors.Join(cherr, encerr)
}
