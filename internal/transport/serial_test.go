package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

// fakeBridge answers bridge frames from an in-memory register file. Each Write
// must carry exactly one frame, which is what Serial does.
type fakeBridge struct {
	regs   map[uint16]byte
	out    bytes.Buffer
	frames [][]byte
	status byte
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{regs: map[uint16]byte{}}
}

func (b *fakeBridge) Write(p []byte) (int, error) {
	frame := append([]byte(nil), p...)
	b.frames = append(b.frames, frame)

	addr := binary.BigEndian.Uint16(frame[1:3])
	n := int(binary.BigEndian.Uint16(frame[3:5]))

	b.out.WriteByte(b.status)
	if b.status != 0 {
		return len(p), nil
	}
	switch frame[0] {
	case 'R':
		for i := 0; i < n; i++ {
			b.out.WriteByte(b.regs[addr+uint16(i)])
		}
	case 'W':
		for i, v := range frame[5:] {
			b.regs[addr+uint16(i)] = v
		}
	}
	return len(p), nil
}

func (b *fakeBridge) Read(p []byte) (int, error) {
	return b.out.Read(p)
}

// silentBridge accepts frames and never answers.
type silentBridge struct{}

func (silentBridge) Write(p []byte) (int, error) { return len(p), nil }
func (silentBridge) Read([]byte) (int, error)    { return 0, io.EOF }

func TestSerialWriteThenRead(t *testing.T) {
	br := newFakeBridge()
	s := NewSerial(br)

	if err := s.WriteRegister(0x0014, []byte{0x0A, 0x02}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []byte{'W', 0x00, 0x14, 0x00, 0x02, 0x0A, 0x02}
	if !bytes.Equal(br.frames[0], want) {
		t.Fatalf("write frame % X, want % X", br.frames[0], want)
	}

	got, err := s.ReadRegister(0x0014, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, []byte{0x0A, 0x02}) {
		t.Fatalf("read % X", got)
	}
	if !bytes.Equal(br.frames[1], []byte{'R', 0x00, 0x14, 0x00, 0x02}) {
		t.Fatalf("read frame % X", br.frames[1])
	}
}

func TestSerialBridgeStatus(t *testing.T) {
	br := newFakeBridge()
	br.status = 0x02
	s := NewSerial(br)

	err := s.WriteRegister(0x0083, []byte{1})
	var be *BridgeError
	if !errors.As(err, &be) {
		t.Fatalf("got %v, want BridgeError", err)
	}
	if be.Status != 0x02 || be.Addr != 0x0083 || be.Op != 'W' {
		t.Fatalf("unexpected bridge error %+v", be)
	}
}

func TestSerialShortReply(t *testing.T) {
	s := NewSerial(silentBridge{})
	if _, err := s.ReadRegister(0x0031, 1); err == nil {
		t.Fatalf("expected error on missing reply")
	}
}

func TestSerialClosed(t *testing.T) {
	s := NewSerial(newFakeBridge())
	_ = s.Close()
	if _, err := s.ReadRegister(0, 1); !errors.Is(err, ErrClosed) {
		t.Fatalf("got %v, want ErrClosed", err)
	}
}
