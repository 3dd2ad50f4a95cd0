package protocol

import (
	"errors"
	"fmt"
)

// Announce constants. All multi-byte UDP fields are little-endian.
const (
	// ReservedByte must lead every announce datagram.
	ReservedByte = 0x00

	// Announce types
	AnnounceTypeRobot = 0x00

	// AnnounceHeaderSize is [Reserved:1][Type:1][NameLen:1]
	AnnounceHeaderSize = 3

	// MaxNameLength is bounded by the single length byte.
	MaxNameLength = 255
)

var (
	ErrAnnounceTooShort    = errors.New("announce too short")
	ErrReservedByte        = errors.New("reserved byte not zero")
	ErrUnknownAnnounceType = errors.New("unknown announce type")
	ErrNameTruncated       = errors.New("name extends past end of datagram")
	ErrInvalidName         = errors.New("invalid session name")
)

// Announce is a parsed session-establishment datagram.
// Layout: [Reserved:1][Type:1][NameLen:1][Name:NameLen]
//
// Bytes after the name are ignored. Older clients reserved a second
// length/peer-name pair there that no server ever read.
type Announce struct {
	Type uint8
	Name string
}

// ParseAnnounce parses a datagram from an unknown sender as a session
// announce. Every error it returns is a protocol violation; callers drop the
// datagram without side effects.
func ParseAnnounce(data []byte) (*Announce, error) {
	if len(data) < AnnounceHeaderSize {
		return nil, fmt.Errorf("%w: expected at least %d bytes, got %d", ErrAnnounceTooShort, AnnounceHeaderSize, len(data))
	}

	if data[0] != ReservedByte {
		return nil, fmt.Errorf("%w: got 0x%02x", ErrReservedByte, data[0])
	}

	if data[1] != AnnounceTypeRobot {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownAnnounceType, data[1])
	}

	nameLen := int(data[2])
	if AnnounceHeaderSize+nameLen > len(data) {
		return nil, fmt.Errorf("%w: name length %d, %d bytes available", ErrNameTruncated, nameLen, len(data)-AnnounceHeaderSize)
	}

	name := data[AnnounceHeaderSize : AnnounceHeaderSize+nameLen]
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	return &Announce{
		Type: data[1],
		Name: string(name),
	}, nil
}

// EncodeAnnounce builds the datagram a robot sends to open a session.
func EncodeAnnounce(name string) ([]byte, error) {
	if len(name) > MaxNameLength {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidName, len(name), MaxNameLength)
	}
	if err := ValidateName([]byte(name)); err != nil {
		return nil, err
	}

	buf := make([]byte, AnnounceHeaderSize+len(name))
	buf[0] = ReservedByte
	buf[1] = AnnounceTypeRobot
	buf[2] = uint8(len(name))
	copy(buf[AnnounceHeaderSize:], name)
	return buf, nil
}

// ValidateName accepts non-empty printable ASCII.
func ValidateName(name []byte) error {
	if len(name) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	for i, b := range name {
		if b < 0x20 || b > 0x7e {
			return fmt.Errorf("%w: byte 0x%02x at offset %d is not printable ASCII", ErrInvalidName, b, i)
		}
	}
	return nil
}

// String returns a human-readable representation of the announce
func (a *Announce) String() string {
	return fmt.Sprintf("Announce{Type:%d, Name:%q}", a.Type, a.Name)
}
