package protocol

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func TestParseAnnounce(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expected    string
		expectError error
	}{
		{
			name:     "valid robot announce",
			data:     []byte{0x00, 0x00, 0x02, 'R', '1'},
			expected: "R1",
		},
		{
			name:     "trailing peer field is ignored",
			data:     []byte{0x00, 0x00, 0x02, 'R', '1', 0x04, 'p', 'e', 'e', 'r'},
			expected: "R1",
		},
		{
			name:        "reserved byte set",
			data:        []byte{0x01, 0x00, 0x02, 'R', '1'},
			expectError: ErrReservedByte,
		},
		{
			name:        "sensor info from unknown sender",
			data:        append([]byte{OpSensorInfo}, make([]byte, SensorInfoSize)...),
			expectError: ErrReservedByte,
		},
		{
			name:        "wrong announce type",
			data:        []byte{0x00, 0x01, 0x02, 'R', '1'},
			expectError: ErrUnknownAnnounceType,
		},
		{
			name:        "header too short",
			data:        []byte{0x00, 0x00},
			expectError: ErrAnnounceTooShort,
		},
		{
			name:        "empty datagram",
			data:        []byte{},
			expectError: ErrAnnounceTooShort,
		},
		{
			name:        "name length past end",
			data:        []byte{0x00, 0x00, 0x05, 'R', '1'},
			expectError: ErrNameTruncated,
		},
		{
			name:        "zero length name",
			data:        []byte{0x00, 0x00, 0x00},
			expectError: ErrInvalidName,
		},
		{
			name:        "non ascii name",
			data:        []byte{0x00, 0x00, 0x02, 0xC3, 0xA9},
			expectError: ErrInvalidName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseAnnounce(tt.data)

			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Fatalf("Expected error %v, got %v", tt.expectError, err)
				}
				if result != nil {
					t.Errorf("Expected nil announce on error, got %v", result)
				}
				return
			}

			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if result.Name != tt.expected {
				t.Errorf("Expected name %q, got %q", tt.expected, result.Name)
			}
			if result.Type != AnnounceTypeRobot {
				t.Errorf("Expected robot announce type, got %d", result.Type)
			}
		})
	}
}

func TestEncodeAnnounce(t *testing.T) {
	data, err := EncodeAnnounce("EyeBot")
	if err != nil {
		t.Fatalf("Failed to encode announce: %v", err)
	}

	expected := []byte{0x00, 0x00, 0x06, 'E', 'y', 'e', 'B', 'o', 't'}
	if string(data) != string(expected) {
		t.Errorf("Expected % x, got % x", expected, data)
	}

	if _, err := EncodeAnnounce(""); !errors.Is(err, ErrInvalidName) {
		t.Errorf("Expected ErrInvalidName for empty name, got %v", err)
	}

	long := make([]byte, MaxNameLength+1)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := EncodeAnnounce(string(long)); !errors.Is(err, ErrInvalidName) {
		t.Errorf("Expected ErrInvalidName for oversized name, got %v", err)
	}
}

func TestParseSensorInfo(t *testing.T) {
	// Build the datagram the way the python robot client does
	data := make([]byte, 1+SensorInfoSize)
	data[0] = OpSensorInfo
	p := data[1:]
	binary.LittleEndian.PutUint64(p[0:], 42)
	for i, m := range []int32{10, -20, 30, -40} {
		binary.LittleEndian.PutUint32(p[8+i*4:], uint32(m))
	}
	floats := []float32{0.1, 0.2, 9.8, 1, 0, 0, 0, 0, 0, 1}
	for i, f := range floats {
		binary.LittleEndian.PutUint32(p[24+i*4:], math.Float32bits(f))
	}

	info, err := ParseSensorInfo(data)
	if err != nil {
		t.Fatalf("Expected no error but got: %v", err)
	}

	if info.Sequence != 42 {
		t.Errorf("Expected sequence 42, got %d", info.Sequence)
	}
	if info.Motors != [MotorCount]int32{10, -20, 30, -40} {
		t.Errorf("Unexpected motors %v", info.Motors)
	}
	if info.Accel.Z != 9.8 {
		t.Errorf("Expected accel z 9.8, got %f", info.Accel.Z)
	}
	if info.Compass.X != 1 {
		t.Errorf("Expected compass x 1, got %f", info.Compass.X)
	}
	if info.Gyro.W != 1 {
		t.Errorf("Expected gyro w 1, got %f", info.Gyro.W)
	}

	encoded, err := info.MarshalBinary()
	if err != nil {
		t.Fatalf("Failed to marshal sensor info: %v", err)
	}
	if string(encoded) != string(data) {
		t.Errorf("Re-encoded sensor info differs from input")
	}
}

func TestParseSensorInfoErrors(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expectError error
	}{
		{"empty", nil, ErrEmptyDatagram},
		{"wrong opcode", []byte{OpMotorCommand, 0x00}, ErrUnknownOpcode},
		{"short payload", append([]byte{OpSensorInfo}, make([]byte, 10)...), ErrSensorInfoShort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseSensorInfo(tt.data); !errors.Is(err, tt.expectError) {
				t.Errorf("Expected %v, got %v", tt.expectError, err)
			}
		})
	}
}

func TestMotorCommandLayout(t *testing.T) {
	cmd := &MotorCommand{Sequence: 7, Motors: [MotorCount]int32{100, 0, -100, 50}}

	data, err := cmd.MarshalBinary()
	if err != nil {
		t.Fatalf("Failed to marshal motor command: %v", err)
	}

	if len(data) != 1+MotorCommandSize {
		t.Fatalf("Expected %d bytes, got %d", 1+MotorCommandSize, len(data))
	}
	if data[0] != OpMotorCommand {
		t.Errorf("Expected opcode 0x03, got 0x%02x", data[0])
	}
	if seq := binary.LittleEndian.Uint64(data[1:9]); seq != 7 {
		t.Errorf("Expected sequence 7, got %d", seq)
	}
	if m3 := int32(binary.LittleEndian.Uint32(data[17:21])); m3 != -100 {
		t.Errorf("Expected motor 3 = -100, got %d", m3)
	}

	parsed, err := ParseMotorCommand(data)
	if err != nil {
		t.Fatalf("Failed to parse motor command: %v", err)
	}
	if *parsed != *cmd {
		t.Errorf("Expected %+v, got %+v", cmd, parsed)
	}
}

func TestOpcodeString(t *testing.T) {
	tests := map[uint8]string{
		0x00: "Announce",
		0x02: "SensorInfo",
		0x03: "MotorCommand",
		0x7f: "Unknown(0x7f)",
	}
	for op, want := range tests {
		if got := OpcodeString(op); got != want {
			t.Errorf("OpcodeString(0x%02x) = %q, want %q", op, got, want)
		}
	}
}
