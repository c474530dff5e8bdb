package firmware

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestSetLight_PackedWord(t *testing.T) {
	for b := uint8(1); b <= MaxBrightness; b++ {
		for c := uint8(0); c <= 16; c++ {
			zones := [MaxZones]uint8{c, (c + 1) % 17, (c + 2) % 17, (c + 3) % 17}
			cmd := SetLight(b, zones)

			want := uint32(zones[0]) | uint32(zones[1])<<8 | uint32(zones[2])<<16 | uint32(b-1)<<24
			if cmd.Args[0] != want {
				t.Fatalf("SetLight(%d, %v).Args[0] = %#x, want %#x", b, zones, cmd.Args[0], want)
			}
			if cmd.Args[2] != uint32(zones[3]) {
				t.Fatalf("SetLight(%d, %v).Args[2] = %d, want %d", b, zones, cmd.Args[2], zones[3])
			}
			if cmd.Args[1] != 0 || cmd.Args[3] != 0 {
				t.Fatalf("SetLight(%d, %v) arg2/arg4 = %d/%d, want 0/0", b, zones, cmd.Args[1], cmd.Args[3])
			}
		}
	}
}

func TestSetLight_Off(t *testing.T) {
	zones := [MaxZones]uint8{16, 15, 14, 13}
	cmd := SetLight(0, zones)

	if cmd.Args[0] != 0 {
		t.Errorf("Args[0] = %#x, want 0", cmd.Args[0])
	}
	// The fourth zone is sent even when the light is off.
	if cmd.Args[2] != 13 {
		t.Errorf("Args[2] = %d, want 13", cmd.Args[2])
	}
}

func TestSetLight_Example(t *testing.T) {
	// ruby, citrine, amber, peridot at brightness 5
	cmd := SetLight(5, [MaxZones]uint8{1, 2, 3, 4})

	if cmd.Args[0] != 0x04030201 {
		t.Errorf("Args[0] = %#x, want 0x04030201", cmd.Args[0])
	}
	if cmd.Args[2] != 4 {
		t.Errorf("Args[2] = %d, want 4", cmd.Args[2])
	}
	if cmd.Class != 4 || cmd.Selector != 6 {
		t.Errorf("class/select = %d/%d, want 4/6", cmd.Class, cmd.Selector)
	}
}

func TestMarshalBinary_Layout(t *testing.T) {
	cmd := SetLight(5, [MaxZones]uint8{1, 2, 3, 4})
	buf, err := cmd.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}
	if len(buf) != CommandSize {
		t.Fatalf("len = %d, want %d", len(buf), CommandSize)
	}

	want := []byte{
		0x04, 0x00, // class
		0x06, 0x00, // select
		0x01, 0x02, 0x03, 0x04, // arg1
		0x00, 0x00, 0x00, 0x00, // arg2
		0x04, 0x00, 0x00, 0x00, // arg3
	}
	if !bytes.Equal(buf[:len(want)], want) {
		t.Errorf("header = % x, want % x", buf[:len(want)], want)
	}
	for i := len(want); i < CommandSize; i++ {
		if buf[i] != 0 {
			t.Fatalf("byte %d = %#x, want zero fill", i, buf[i])
		}
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	req := SetLight(8, [MaxZones]uint8{16, 0, 9, 2})
	buf, _ := req.MarshalBinary()

	reply, err := Decode(Object{Type: ObjectBuffer, Buffer: buf})
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if reply != req {
		t.Errorf("Decode() = %v, want %v", reply, req)
	}

	again, _ := reply.MarshalBinary()
	if !bytes.Equal(again, buf) {
		t.Error("re-marshalled reply differs from original bytes")
	}
}

func TestDecode_Errors(t *testing.T) {
	ok, _ := SetLight(1, [MaxZones]uint8{}).MarshalBinary()

	failed := make([]byte, CommandSize)
	copy(failed, ok)
	binary.LittleEndian.PutUint32(failed[offRes:], 0xfffffffe)

	tests := []struct {
		name   string
		obj    Object
		target error
		code   uint32
	}{
		{name: "integer", obj: Object{Type: ObjectInteger, Integer: 0}, target: ErrUnexpectedType},
		{name: "string", obj: Object{Type: ObjectString}, target: ErrUnexpectedType},
		{name: "short_buffer", obj: Object{Type: ObjectBuffer, Buffer: ok[:64]}, target: ErrReplySize},
		{name: "long_buffer", obj: Object{Type: ObjectBuffer, Buffer: append(ok, 0)}, target: ErrReplySize},
		{name: "status", obj: Object{Type: ObjectBuffer, Buffer: failed}, code: 0xfffffffe},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.obj)
			if err == nil {
				t.Fatal("Decode() returned nil error")
			}
			if !errors.Is(err, ErrProtocol) {
				t.Errorf("error %v is not ErrProtocol", err)
			}
			if tt.target != nil && !errors.Is(err, tt.target) {
				t.Errorf("error = %v, want %v", err, tt.target)
			}
			if tt.code != 0 {
				var se *StatusError
				if !errors.As(err, &se) {
					t.Fatalf("error = %T, want *StatusError", err)
				}
				if se.Code != tt.code {
					t.Errorf("Code = %#x, want %#x", se.Code, tt.code)
				}
			}
		})
	}
}
