package strip

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

// fakeChannel records the lifecycle calls made to it and can be told
// to fail any one of them.
type fakeChannel struct {
	calls       []string
	transmitted [][]byte
	enableErr   error
	transmitErr error
	waitErr     error
	disableErr  error
	closeErr    error
}

func (c *fakeChannel) Enable() error {
	c.calls = append(c.calls, "enable")
	return c.enableErr
}

func (c *fakeChannel) Transmit(enc Encoder, pixels []byte, opts TransmitOptions) error {
	c.calls = append(c.calls, "transmit")
	if c.transmitErr != nil {
		return c.transmitErr
	}
	if opts.LoopCount != 0 {
		return errors.New("unexpected loop count")
	}
	out, err := enc.Encode(nil, pixels)
	if err != nil {
		return err
	}
	c.transmitted = append(c.transmitted, out)
	return nil
}

func (c *fakeChannel) WaitAllDone(timeout time.Duration) error {
	c.calls = append(c.calls, "wait")
	return c.waitErr
}

func (c *fakeChannel) Disable() error {
	c.calls = append(c.calls, "disable")
	return c.disableErr
}

func (c *fakeChannel) Close() error {
	c.calls = append(c.calls, "close")
	return c.closeErr
}

// identityEncoder passes pixel bytes through unchanged, which makes
// asserting on transmitted content trivial.
type identityEncoder struct {
	closeErr error
	closed   int
}

func (e *identityEncoder) Encode(dst, pixels []byte) ([]byte, error) {
	return append(dst, pixels...), nil
}

func (e *identityEncoder) Close() error {
	e.closed++
	return e.closeErr
}

func newTestStrip(t *testing.T, numPixels int, format PixelFormat) (*Strip, *fakeChannel) {
	t.Helper()
	ch := &fakeChannel{}
	s, err := New(numPixels, format, ch, &identityEncoder{})
	if err != nil {
		t.Fatalf("New(%d, %v): %v", numPixels, format, err)
	}
	return s, ch
}

func TestNewRejectsBadConfig(t *testing.T) {
	ch := &fakeChannel{}
	enc := &identityEncoder{}
	tests := []struct {
		name      string
		numPixels int
		format    PixelFormat
		ch        Channel
		enc       Encoder
	}{
		{"unknown format", 10, PixelFormat(42), ch, enc},
		{"zero pixels", 0, GRB, ch, enc},
		{"negative pixels", -3, GRB, ch, enc},
		{"nil channel", 10, GRB, nil, enc},
		{"nil encoder", 10, GRB, ch, nil},
	}
	for _, test := range tests {
		_, err := New(test.numPixels, test.format, test.ch, test.enc)
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("%s: got %v, want ErrInvalidArgument", test.name, err)
		}
	}
}

func TestSetPixelWireOrder(t *testing.T) {
	tests := []struct {
		format  PixelFormat
		r, g, b int
		want    []byte
	}{
		{RGB, 1, 2, 3, []byte{1, 2, 3}},
		{GRB, 255, 0, 0, []byte{0x00, 0xFF, 0x00}},
		{GRB, 10, 20, 30, []byte{20, 10, 30}},
	}
	for _, test := range tests {
		s, _ := newTestStrip(t, 10, test.format)
		if err := s.SetPixel(0, test.r, test.g, test.b); err != nil {
			t.Errorf("%v: SetPixel: %v", test.format, err)
			continue
		}
		if got := s.Bytes()[0:3]; !bytes.Equal(got, test.want) {
			t.Errorf("%v: buffer %v, want %v", test.format, got, test.want)
		}
	}
}

func TestSetPixelRGBWWireOrder(t *testing.T) {
	s, _ := newTestStrip(t, 5, GRBW)
	if err := s.SetPixelRGBW(2, 10, 20, 30, 40); err != nil {
		t.Fatalf("SetPixelRGBW: %v", err)
	}
	want := []byte{20, 10, 30, 40}
	if got := s.Bytes()[8:12]; !bytes.Equal(got, want) {
		t.Errorf("buffer [8:12] = %v, want %v", got, want)
	}
	// The other pixels stay dark.
	for i, v := range s.Bytes() {
		if i >= 8 && i < 12 {
			continue
		}
		if v != 0 {
			t.Errorf("byte %d = %d, want 0", i, v)
		}
	}
}

func TestSetPixelTruncatesChannels(t *testing.T) {
	s, _ := newTestStrip(t, 4, RGB)
	// 300 % 256 == 44: wide values keep their low byte, no clamping.
	if err := s.SetPixel(0, 300, 256, 511); err != nil {
		t.Fatalf("SetPixel: %v", err)
	}
	want := []byte{44, 0, 255}
	if got := s.Bytes()[0:3]; !bytes.Equal(got, want) {
		t.Errorf("buffer %v, want %v", got, want)
	}
}

func TestSetPixelBoundsChecked(t *testing.T) {
	s, _ := newTestStrip(t, 10, GRB)
	for _, i := range []int{-1, 10, 11} {
		if err := s.SetPixel(i, 1, 2, 3); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("SetPixel(%d): got %v, want ErrInvalidArgument", i, err)
		}
	}
	for _, v := range s.Bytes() {
		if v != 0 {
			t.Fatalf("failed writes modified the buffer: %v", s.Bytes())
		}
	}
}

func TestSetPixelRGBWBoundsChecked(t *testing.T) {
	s, _ := newTestStrip(t, 5, GRBW)
	for _, i := range []int{-1, 5, 100} {
		if err := s.SetPixelRGBW(i, 1, 2, 3, 4); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("SetPixelRGBW(%d): got %v, want ErrInvalidArgument", i, err)
		}
	}
}

func TestSetPixelFormatMismatch(t *testing.T) {
	s4, _ := newTestStrip(t, 5, GRBW)
	if err := s4.SetPixel(0, 1, 2, 3); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("SetPixel on GRBW: got %v, want ErrInvalidArgument", err)
	}
	s3, _ := newTestStrip(t, 5, GRB)
	if err := s3.SetPixelRGBW(0, 1, 2, 3, 4); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("SetPixelRGBW on GRB: got %v, want ErrInvalidArgument", err)
	}
	// Neither failed write may touch the buffer.
	for _, s := range []*Strip{s4, s3} {
		for _, v := range s.Bytes() {
			if v != 0 {
				t.Fatalf("failed write modified the buffer: %v", s.Bytes())
			}
		}
	}
}

func TestGetPixelRoundTrip(t *testing.T) {
	s, _ := newTestStrip(t, 10, GRB)
	if err := s.SetPixel(7, 10, 25, 45); err != nil {
		t.Fatalf("SetPixel: %v", err)
	}
	p, err := s.GetPixel(7)
	if err != nil {
		t.Fatalf("GetPixel: %v", err)
	}
	if want := (Pixel{10, 25, 45, -1}); p != want {
		t.Errorf("GetPixel = %v, want %v", p, want)
	}

	s4, _ := newTestStrip(t, 10, GRBW)
	if err := s4.SetPixelRGBW(3, 1, 2, 3, 4); err != nil {
		t.Fatalf("SetPixelRGBW: %v", err)
	}
	p, err = s4.GetPixel(3)
	if err != nil {
		t.Fatalf("GetPixel: %v", err)
	}
	if want := (Pixel{1, 2, 3, 4}); p != want {
		t.Errorf("GetPixel = %v, want %v", p, want)
	}
}

func TestRefreshLifecycle(t *testing.T) {
	s, ch := newTestStrip(t, 3, GRB)
	s.SetPixel(1, 4, 5, 6)
	if err := s.Refresh(); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	want := []string{"enable", "transmit", "wait", "disable"}
	if !equalStrings(ch.calls, want) {
		t.Errorf("calls %v, want %v", ch.calls, want)
	}
	if len(ch.transmitted) != 1 || !bytes.Equal(ch.transmitted[0], s.Bytes()) {
		t.Errorf("transmitted %v, want %v", ch.transmitted, s.Bytes())
	}
}

func TestRefreshIdempotent(t *testing.T) {
	s, ch := newTestStrip(t, 4, GRB)
	s.SetPixel(0, 9, 8, 7)
	s.SetPixel(3, 1, 2, 3)
	if err := s.Refresh(); err != nil {
		t.Fatalf("first Refresh: %v", err)
	}
	if err := s.Refresh(); err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
	if len(ch.transmitted) != 2 {
		t.Fatalf("got %d transmissions, want 2", len(ch.transmitted))
	}
	if !bytes.Equal(ch.transmitted[0], ch.transmitted[1]) {
		t.Errorf("transmissions differ: %v vs %v", ch.transmitted[0], ch.transmitted[1])
	}
}

func TestRefreshEnableFailure(t *testing.T) {
	s, ch := newTestStrip(t, 3, GRB)
	cause := errors.New("lane busy")
	ch.enableErr = cause
	err := s.Refresh()
	if !errors.Is(err, cause) {
		t.Errorf("Refresh: got %v, want wrapped %v", err, cause)
	}
	var re *ResourceError
	if !errors.As(err, &re) || re.Op != "enable" {
		t.Errorf("Refresh: got %v, want ResourceError{Op: enable}", err)
	}
	// Nothing was enabled, so nothing may be disabled.
	if want := []string{"enable"}; !equalStrings(ch.calls, want) {
		t.Errorf("calls %v, want %v", ch.calls, want)
	}
}

func TestRefreshTransmitFailure(t *testing.T) {
	s, ch := newTestStrip(t, 3, GRB)
	cause := errors.New("encoder jam")
	ch.transmitErr = cause
	ch.disableErr = errors.New("disable also broken")
	err := s.Refresh()
	// The transmit error propagates, not the cleanup error.
	if !errors.Is(err, cause) {
		t.Errorf("Refresh: got %v, want wrapped %v", err, cause)
	}
	if want := []string{"enable", "transmit", "disable"}; !equalStrings(ch.calls, want) {
		t.Errorf("calls %v, want %v", ch.calls, want)
	}
}

func TestRefreshWaitFailure(t *testing.T) {
	s, ch := newTestStrip(t, 3, GRB)
	cause := errors.New("dma stall")
	ch.waitErr = cause
	err := s.Refresh()
	if !errors.Is(err, cause) {
		t.Errorf("Refresh: got %v, want wrapped %v", err, cause)
	}
	if want := []string{"enable", "transmit", "wait", "disable"}; !equalStrings(ch.calls, want) {
		t.Errorf("calls %v, want %v", ch.calls, want)
	}
}

func TestRefreshDisableFailure(t *testing.T) {
	s, ch := newTestStrip(t, 3, GRB)
	cause := errors.New("won't stop")
	ch.disableErr = cause
	err := s.Refresh()
	if !errors.Is(err, cause) {
		t.Errorf("Refresh: got %v, want wrapped %v", err, cause)
	}
	var re *ResourceError
	if !errors.As(err, &re) || re.Op != "disable" {
		t.Errorf("Refresh: got %v, want ResourceError{Op: disable}", err)
	}
}

func TestClearZeroesAndRefreshesOnce(t *testing.T) {
	s, ch := newTestStrip(t, 10, GRBW)
	for i := 0; i < 10; i++ {
		s.SetPixelRGBW(i, 200, 100, 50, 25)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	for i, v := range s.Bytes() {
		if v != 0 {
			t.Fatalf("byte %d = %d after Clear, want 0", i, v)
		}
	}
	if len(s.Bytes()) != 10*4 {
		t.Errorf("buffer len %d, want 40", len(s.Bytes()))
	}
	if len(ch.transmitted) != 1 {
		t.Fatalf("Clear caused %d transmissions, want exactly 1", len(ch.transmitted))
	}
	for _, v := range ch.transmitted[0] {
		if v != 0 {
			t.Fatalf("Clear transmitted non-zero frame %v", ch.transmitted[0])
		}
	}
}

func TestCloseReleasesBoth(t *testing.T) {
	ch := &fakeChannel{}
	enc := &identityEncoder{}
	s, err := New(5, GRB, ch, enc)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if want := []string{"close"}; !equalStrings(ch.calls, want) {
		t.Errorf("channel calls %v, want %v", ch.calls, want)
	}
	if enc.closed != 1 {
		t.Errorf("encoder closed %d times, want 1", enc.closed)
	}
}

func TestCloseReportsBothFailures(t *testing.T) {
	chErr := errors.New("channel stuck")
	encErr := errors.New("encoder stuck")
	ch := &fakeChannel{closeErr: chErr}
	enc := &identityEncoder{closeErr: encErr}
	s, err := New(5, GRB, ch, enc)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = s.Close()
	if !errors.Is(err, chErr) || !errors.Is(err, encErr) {
		t.Errorf("Close: got %v, want both %v and %v", err, chErr, encErr)
	}
	// The encoder release still ran despite the channel failure.
	if enc.closed != 1 {
		t.Errorf("encoder closed %d times, want 1", enc.closed)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
