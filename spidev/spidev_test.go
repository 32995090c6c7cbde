package spidev

import (
	"bytes"
	"errors"
	"testing"

	"ledstrip/strip"
)

type fakeDev struct {
	writes   [][]byte
	writeErr error
	short    bool
}

func (d *fakeDev) Fd() uintptr {
	return ^uintptr(0)
}

func (d *fakeDev) Write(b []byte) (int, error) {
	if d.writeErr != nil {
		return 0, d.writeErr
	}
	d.writes = append(d.writes, append([]byte(nil), b...))
	if d.short {
		return len(b) - 1, nil
	}
	return len(b), nil
}

// doubler stands in for a real symbol encoder: every pixel byte comes
// out twice.
type doubler struct{}

func (doubler) Encode(dst, pixels []byte) ([]byte, error) {
	for _, b := range pixels {
		dst = append(dst, b, b)
	}
	return dst, nil
}

func (doubler) Close() error {
	return nil
}

func TestTransmitWritesEncodedStream(t *testing.T) {
	d := &fakeDev{}
	c := &Channel{dev: d}
	if err := c.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if err := c.Transmit(doubler{}, []byte{1, 2, 3}, strip.TransmitOptions{}); err != nil {
		t.Fatalf("Transmit: %v", err)
	}
	if len(d.writes) != 1 {
		t.Fatalf("got %d writes, want 1", len(d.writes))
	}
	if want := []byte{1, 1, 2, 2, 3, 3}; !bytes.Equal(d.writes[0], want) {
		t.Errorf("wrote % X, want % X", d.writes[0], want)
	}
	if err := c.WaitAllDone(-1); err != nil {
		t.Errorf("WaitAllDone: %v", err)
	}
	if err := c.Disable(); err != nil {
		t.Errorf("Disable: %v", err)
	}
}

func TestTransmitRequiresEnable(t *testing.T) {
	c := &Channel{dev: &fakeDev{}}
	if err := c.Transmit(doubler{}, []byte{1}, strip.TransmitOptions{}); err == nil {
		t.Error("Transmit on disabled channel succeeded")
	}
}

func TestTransmitRejectsLoopCount(t *testing.T) {
	c := &Channel{dev: &fakeDev{}}
	c.Enable()
	err := c.Transmit(doubler{}, []byte{1}, strip.TransmitOptions{LoopCount: 2})
	if !errors.Is(err, strip.ErrInvalidArgument) {
		t.Errorf("got %v, want ErrInvalidArgument", err)
	}
}

func TestTransmitReportsWriteFailures(t *testing.T) {
	boom := errors.New("boom")
	c := &Channel{dev: &fakeDev{writeErr: boom}}
	c.Enable()
	if err := c.Transmit(doubler{}, []byte{1}, strip.TransmitOptions{}); !errors.Is(err, boom) {
		t.Errorf("got %v, want wrapped boom", err)
	}

	c = &Channel{dev: &fakeDev{short: true}}
	c.Enable()
	if err := c.Transmit(doubler{}, []byte{1}, strip.TransmitOptions{}); err == nil {
		t.Error("short write went unreported")
	}
}

func TestEnableDisableStateMachine(t *testing.T) {
	c := &Channel{dev: &fakeDev{}}
	if err := c.Disable(); err == nil {
		t.Error("Disable before Enable succeeded")
	}
	if err := c.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if err := c.Enable(); err == nil {
		t.Error("double Enable succeeded")
	}
	if err := c.Disable(); err != nil {
		t.Errorf("Disable: %v", err)
	}
	if err := c.Disable(); err == nil {
		t.Error("double Disable succeeded")
	}
}

func TestCloseRunsCloser(t *testing.T) {
	closed := 0
	c := &Channel{dev: &fakeDev{}, closer: func() error {
		closed++
		return nil
	}}
	c.Enable()
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if closed != 1 {
		t.Errorf("closer ran %d times, want 1", closed)
	}
	if c.enabled {
		t.Error("channel still enabled after Close")
	}
}
