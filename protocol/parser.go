package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Decode parses a complete frame, as returned by FrameReader, into a Message.
//
// A frame written with another protocol version is not an error: Decode
// returns a synthetic MTError message whose data describes the mismatch, so
// it can be reported through the same channel as any other error event.
func (c *Codec) Decode(frame []byte) (*Message, error) {
	if len(frame) < LengthSize+1 {
		return nil, ErrMessageTooShort
	}

	if version := frame[4]; version != Version {
		return &Message{
			Version:  version,
			DataType: DataString,
			Type:     MTError,
			Data: String(fmt.Sprintf(
				"Remote protocol version %d does not match the local version %d", version, Version)),
		}, nil
	}

	if len(frame) < LengthSize+headerSize+4+4 {
		return nil, ErrMessageTooShort
	}

	msg := &Message{
		Version:  frame[4],
		DataType: DataType(frame[6]),
		Type:     MessageType(frame[7]),
		ID:       binary.LittleEndian.Uint32(frame[8:]),
	}

	offset := LengthSize + headerSize
	event, offset, err := readField(frame, offset)
	if err != nil {
		return nil, err
	}

	data, _, err := readField(frame, offset)
	if err != nil {
		return nil, err
	}

	if msg.Type.IsRouted() {
		route := ParseRoute(string(event))
		msg.Event = route.Event
		msg.Targets = route.Targets
		msg.Except = route.Except
	} else {
		msg.Event = string(event)
	}

	if msg.Data, err = c.decodeData(msg.Event, msg.DataType, data); err != nil {
		return nil, fmt.Errorf("Failed to decode %s data for '%s': %w", msg.DataType, msg.Event, err)
	}

	return msg, nil
}

// readField reads a uint32 length followed by that many bytes.
func readField(frame []byte, offset int) ([]byte, int, error) {
	if len(frame)-offset < 4 {
		return nil, offset, ErrMalformedMessage
	}

	length := int(binary.LittleEndian.Uint32(frame[offset:]))
	offset += 4

	if length < 0 || len(frame)-offset < length {
		return nil, offset, ErrMalformedMessage
	}

	return frame[offset : offset+length], offset + length, nil
}

func (c *Codec) decodeData(event string, dataType DataType, data []byte) (Value, error) {
	switch dataType {
	case DataString:
		return String(string(data)), nil

	case DataBinary:
		return Binary(data), nil

	case DataInteger:
		if len(data) != 6 {
			return Value{}, ErrMalformedMessage
		}

		var b [8]byte
		copy(b[:], data)
		// Sign extend from bit 47
		return Integer(int64(binary.LittleEndian.Uint64(b[:])<<16) >> 16), nil

	case DataDecimal:
		if len(data) != 8 {
			return Value{}, ErrMalformedMessage
		}
		return Decimal(math.Float64frombits(binary.LittleEndian.Uint64(data))), nil

	case DataBoolean:
		if len(data) != 1 {
			return Value{}, ErrMalformedMessage
		}
		return Bool(data[0] != 0), nil

	case DataObject:
		obj, err := c.deserialize(event, data)
		if err != nil {
			return Value{}, err
		}
		return Value{typ: DataObject, obj: obj, raw: data}, nil

	case DataEmpty:
		return Empty(), nil

	default:
		return Value{}, fmt.Errorf("%d: %w", dataType, ErrUnknownDataType)
	}
}
