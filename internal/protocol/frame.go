package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// MaxFrameSize bounds type+payload on the reliable transport (64 KiB)
	MaxFrameSize = 64 * 1024

	// FrameLengthSize is the big-endian length prefix
	FrameLengthSize = 4
)

// Frame types on the reliable transport
const (
	FrameIdentify     = 0x01
	FrameAck          = 0x02
	FrameError        = 0x03
	FramePing         = 0x04
	FramePong         = 0x05
	FrameMotorCommand = 0x10
)

var (
	ErrFrameTooLarge      = errors.New("frame exceeds maximum size (64 KiB)")
	ErrInvalidFrameLength = errors.New("invalid frame length")
)

// Frame is one message on a stream connection.
// Format: [Length:4][Type:1][Payload:N], Length = 1 + N
type Frame struct {
	Type    uint8
	Payload []byte
}

// EncodeFrame writes a frame to the writer in a single Write call
func EncodeFrame(w io.Writer, f *Frame) error {
	length := uint32(1 + len(f.Payload))
	if length > MaxFrameSize {
		return ErrFrameTooLarge
	}

	buf := make([]byte, FrameLengthSize+int(length))
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = f.Type
	copy(buf[5:], f.Payload)

	_, err := w.Write(buf)
	return err
}

// DecodeFrame reads a frame from the reader
func DecodeFrame(r io.Reader) (*Frame, error) {
	var header [FrameLengthSize + 1]byte
	if _, err := io.ReadFull(r, header[:FrameLengthSize]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[:FrameLengthSize])
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	if length < 1 {
		return nil, ErrInvalidFrameLength
	}

	if _, err := io.ReadFull(r, header[FrameLengthSize:]); err != nil {
		return nil, unexpectedEOF(err)
	}

	payload := make([]byte, length-1)
	if len(payload) > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, unexpectedEOF(err)
		}
	}

	return &Frame{
		Type:    header[FrameLengthSize],
		Payload: payload,
	}, nil
}

// unexpectedEOF reports a clean EOF inside a frame as truncation.
func unexpectedEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// EncodeIdentify builds the payload of an Identify frame: [NameLen:1][Name]
func EncodeIdentify(name string) ([]byte, error) {
	if len(name) > MaxNameLength {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidName, len(name), MaxNameLength)
	}
	if err := ValidateName([]byte(name)); err != nil {
		return nil, err
	}
	buf := make([]byte, 1+len(name))
	buf[0] = uint8(len(name))
	copy(buf[1:], name)
	return buf, nil
}

// DecodeIdentify parses the payload of an Identify frame
func DecodeIdentify(payload []byte) (string, error) {
	name, _, err := readName(payload)
	return name, err
}

// StreamMotorCommand asks the server to drive a robot by name.
// Payload: [NameLen:1][Name][Motor:4x4 big-endian]
type StreamMotorCommand struct {
	Robot  string
	Motors [MotorCount]int32
}

// Encode builds the payload of a MotorCommand frame
func (c *StreamMotorCommand) Encode() ([]byte, error) {
	name, err := EncodeIdentify(c.Robot)
	if err != nil {
		return nil, err
	}
	buf := bytes.NewBuffer(name)
	for _, m := range c.Motors {
		if err := binary.Write(buf, binary.BigEndian, m); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// DecodeStreamMotorCommand parses the payload of a MotorCommand frame
func DecodeStreamMotorCommand(payload []byte) (*StreamMotorCommand, error) {
	name, rest, err := readName(payload)
	if err != nil {
		return nil, err
	}
	if len(rest) != MotorCount*4 {
		return nil, fmt.Errorf("motor command payload: expected %d motor bytes, got %d", MotorCount*4, len(rest))
	}

	cmd := &StreamMotorCommand{Robot: name}
	for i := range cmd.Motors {
		cmd.Motors[i] = int32(binary.BigEndian.Uint32(rest[i*4 : i*4+4]))
	}
	return cmd, nil
}

func readName(payload []byte) (string, []byte, error) {
	if len(payload) < 1 {
		return "", nil, fmt.Errorf("%w: missing length", ErrInvalidName)
	}
	n := int(payload[0])
	if 1+n > len(payload) {
		return "", nil, fmt.Errorf("%w: name length %d, %d bytes available", ErrNameTruncated, n, len(payload)-1)
	}
	name := payload[1 : 1+n]
	if err := ValidateName(name); err != nil {
		return "", nil, err
	}
	return string(name), payload[1+n:], nil
}

// FrameTypeString converts a frame type to a human-readable string
func FrameTypeString(t uint8) string {
	switch t {
	case FrameIdentify:
		return "Identify"
	case FrameAck:
		return "Ack"
	case FrameError:
		return "Error"
	case FramePing:
		return "Ping"
	case FramePong:
		return "Pong"
	case FrameMotorCommand:
		return "MotorCommand"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", t)
	}
}
