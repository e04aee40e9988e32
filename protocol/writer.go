package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Encode serialises msg into a complete frame, length prefix included.
//
// Routed message types pack msg.Targets and msg.Except into the event field.
// Names containing the separator characters are rejected with
// ErrReservedCharacter.
func (c *Codec) Encode(msg *Message) ([]byte, error) {
	event := msg.Event
	if msg.Type.IsRouted() {
		packed, err := msg.Route().Pack()
		if err != nil {
			return nil, err
		}
		event = packed
	} else if err := ValidateName(event); err != nil {
		return nil, err
	}

	dataType := msg.Data.Type()
	data, err := c.encodeData(msg.Data)
	if err != nil {
		return nil, fmt.Errorf("Failed to encode %s data for '%s': %w", dataType, msg.Event, err)
	}

	messageLength := headerSize + 4 + len(event) + 4 + len(data)
	buf := make([]byte, LengthSize+messageLength)

	binary.LittleEndian.PutUint32(buf[0:], uint32(messageLength))
	buf[4] = Version
	buf[5] = 0 // flags are reserved
	buf[6] = byte(dataType)
	buf[7] = byte(msg.Type)
	binary.LittleEndian.PutUint32(buf[8:], msg.ID)

	offset := LengthSize + headerSize
	binary.LittleEndian.PutUint32(buf[offset:], uint32(len(event)))
	offset += 4
	offset += copy(buf[offset:], event)

	binary.LittleEndian.PutUint32(buf[offset:], uint32(len(data)))
	offset += 4
	copy(buf[offset:], data)

	return buf, nil
}

func (c *Codec) encodeData(v Value) ([]byte, error) {
	switch v.Type() {
	case DataString:
		return []byte(v.str), nil

	case DataBinary:
		return v.bin, nil

	case DataInteger:
		if v.num > MaxInteger || v.num < MinInteger {
			return nil, fmt.Errorf("%d: %w", v.num, ErrIntegerOutOfRange)
		}

		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v.num))
		return b[:6], nil

	case DataDecimal:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, math.Float64bits(v.dec))
		return b, nil

	case DataBoolean:
		if v.b {
			return []byte{1}, nil
		}
		return []byte{0}, nil

	case DataObject:
		if v.raw != nil {
			return v.raw, nil
		}
		return c.serialize(v.obj)

	case DataEmpty:
		return nil, nil

	default:
		return nil, ErrUnknownDataType
	}
}
