package protocol

import (
	"bytes"
	"errors"
	"testing"

	"pgregory.net/rapid"
)

func nameGen() *rapid.Generator[string] {
	return rapid.StringMatching(`[ -~]{1,255}`)
}

// TestAnnounceRoundTrip tests that any printable name survives encode/parse
func TestAnnounceRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		name := nameGen().Draw(t, "name")

		data, err := EncodeAnnounce(name)
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}

		announce, err := ParseAnnounce(data)
		if err != nil {
			t.Fatalf("parse failed: %v", err)
		}
		if announce.Name != name {
			t.Fatalf("name mismatch: got %q, want %q", announce.Name, name)
		}
	})
}

// TestAnnounceGate tests that a non-zero reserved or type byte never parses
func TestAnnounceGate(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), 3, 300).Draw(t, "data")
		_, err := ParseAnnounce(data)

		switch {
		case data[0] != ReservedByte:
			if !errors.Is(err, ErrReservedByte) {
				t.Fatalf("expected ErrReservedByte, got %v", err)
			}
		case data[1] != AnnounceTypeRobot:
			if !errors.Is(err, ErrUnknownAnnounceType) {
				t.Fatalf("expected ErrUnknownAnnounceType, got %v", err)
			}
		}
	})
}

// TestFrameRoundTrip tests that any valid frame can be encoded and decoded
func TestFrameRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		msgType := rapid.Byte().Draw(t, "type")
		payload := rapid.SliceOfN(rapid.Byte(), 0, 2048).Draw(t, "payload")

		var buf bytes.Buffer
		if err := EncodeFrame(&buf, &Frame{Type: msgType, Payload: payload}); err != nil {
			t.Fatalf("encode failed: %v", err)
		}

		decoded, err := DecodeFrame(&buf)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if decoded.Type != msgType {
			t.Fatalf("type mismatch: got %d, want %d", decoded.Type, msgType)
		}
		if !bytes.Equal(decoded.Payload, payload) {
			t.Fatalf("payload mismatch")
		}
	})
}

// TestMotorCommandRoundTrip tests the UDP motor command codec
func TestMotorCommandRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cmd := MotorCommand{Sequence: rapid.Int64().Draw(t, "seq")}
		for i := range cmd.Motors {
			cmd.Motors[i] = rapid.Int32().Draw(t, "motor")
		}

		data, err := cmd.MarshalBinary()
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
		parsed, err := ParseMotorCommand(data)
		if err != nil {
			t.Fatalf("parse failed: %v", err)
		}
		if *parsed != cmd {
			t.Fatalf("mismatch: got %+v, want %+v", parsed, cmd)
		}
	})
}
