package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Robot datagram opcodes (first byte of every datagram on an established
// UDP session).
const (
	OpSensorInfo   = 0x02 // robot -> server
	OpMotorCommand = 0x03 // server -> robot

	SensorInfoSize   = 64 // payload after the opcode
	MotorCommandSize = 24 // payload after the opcode

	MotorCount = 4
)

var (
	ErrEmptyDatagram   = errors.New("empty datagram")
	ErrUnknownOpcode   = errors.New("unknown opcode")
	ErrSensorInfoShort = errors.New("sensor info too short")
)

// Vector3 is a little-endian float32 triple.
type Vector3 struct {
	X, Y, Z float32
}

// Quaternion is a little-endian float32 quaternion in x, y, z, w order.
type Quaternion struct {
	X, Y, Z, W float32
}

// SensorInfo is the periodic telemetry a robot pushes over UDP.
// Layout: [Op:1][Sequence:8][Motor:4x4][Accel:3x4][Compass:3x4][Gyro:4x4]
type SensorInfo struct {
	Sequence int64             `json:"sequence"`
	Motors   [MotorCount]int32 `json:"motors"`
	Accel    Vector3           `json:"accel"`
	Compass  Vector3           `json:"compass"`
	Gyro     Quaternion        `json:"gyro"`
}

// MotorCommand sets the power of each motor. Robots ignore commands whose
// sequence is lower than the highest they have seen.
// Layout: [Op:1][Sequence:8][Motor:4x4]
type MotorCommand struct {
	Sequence int64
	Motors   [MotorCount]int32
}

// Opcode returns the first byte of a datagram.
func Opcode(data []byte) (uint8, error) {
	if len(data) == 0 {
		return 0, ErrEmptyDatagram
	}
	return data[0], nil
}

// ParseSensorInfo parses a sensor info datagram including its opcode.
func ParseSensorInfo(data []byte) (*SensorInfo, error) {
	op, err := Opcode(data)
	if err != nil {
		return nil, err
	}
	if op != OpSensorInfo {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownOpcode, op)
	}
	if len(data) < 1+SensorInfoSize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrSensorInfoShort, 1+SensorInfoSize, len(data))
	}

	p := data[1:]
	info := &SensorInfo{
		Sequence: int64(binary.LittleEndian.Uint64(p[0:8])),
	}
	off := 8
	for i := range info.Motors {
		info.Motors[i] = int32(binary.LittleEndian.Uint32(p[off : off+4]))
		off += 4
	}
	info.Accel, off = readVector3(p, off)
	info.Compass, off = readVector3(p, off)
	info.Gyro = Quaternion{
		X: readFloat32(p, off),
		Y: readFloat32(p, off+4),
		Z: readFloat32(p, off+8),
		W: readFloat32(p, off+12),
	}

	return info, nil
}

// MarshalBinary encodes the sensor info with its opcode.
func (s *SensorInfo) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 1+SensorInfoSize)
	buf[0] = OpSensorInfo
	p := buf[1:]
	binary.LittleEndian.PutUint64(p[0:8], uint64(s.Sequence))
	off := 8
	for _, m := range s.Motors {
		binary.LittleEndian.PutUint32(p[off:off+4], uint32(m))
		off += 4
	}
	for _, f := range []float32{
		s.Accel.X, s.Accel.Y, s.Accel.Z,
		s.Compass.X, s.Compass.Y, s.Compass.Z,
		s.Gyro.X, s.Gyro.Y, s.Gyro.Z, s.Gyro.W,
	} {
		binary.LittleEndian.PutUint32(p[off:off+4], math.Float32bits(f))
		off += 4
	}
	return buf, nil
}

// MarshalBinary encodes the motor command with its opcode.
func (m *MotorCommand) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 1+MotorCommandSize)
	buf[0] = OpMotorCommand
	binary.LittleEndian.PutUint64(buf[1:9], uint64(m.Sequence))
	off := 9
	for _, v := range m.Motors {
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(v))
		off += 4
	}
	return buf, nil
}

// ParseMotorCommand parses a motor command datagram including its opcode.
func ParseMotorCommand(data []byte) (*MotorCommand, error) {
	op, err := Opcode(data)
	if err != nil {
		return nil, err
	}
	if op != OpMotorCommand {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownOpcode, op)
	}
	if len(data) < 1+MotorCommandSize {
		return nil, fmt.Errorf("motor command too short: expected %d bytes, got %d", 1+MotorCommandSize, len(data))
	}

	cmd := &MotorCommand{
		Sequence: int64(binary.LittleEndian.Uint64(data[1:9])),
	}
	off := 9
	for i := range cmd.Motors {
		cmd.Motors[i] = int32(binary.LittleEndian.Uint32(data[off : off+4]))
		off += 4
	}
	return cmd, nil
}

func readFloat32(p []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(p[off : off+4]))
}

func readVector3(p []byte, off int) (Vector3, int) {
	return Vector3{
		X: readFloat32(p, off),
		Y: readFloat32(p, off+4),
		Z: readFloat32(p, off+8),
	}, off + 12
}

// OpcodeString converts an opcode to a human-readable string
func OpcodeString(op uint8) string {
	switch op {
	case ReservedByte:
		return "Announce"
	case OpSensorInfo:
		return "SensorInfo"
	case OpMotorCommand:
		return "MotorCommand"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", op)
	}
}
