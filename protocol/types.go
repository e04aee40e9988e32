package protocol

import "strconv"

// Version is the wire protocol version written into every frame.
const Version uint8 = 2

// MessageType tells a receiver how to dispatch a message.
type MessageType uint8

const (
	// MTError is never written to the wire. Decode synthesises it when a frame
	// can't be understood, e.g. because the remote speaks another version.
	MTError MessageType = iota
	MTRegister
	MTData
	MTDataToSocket
	MTDataToRoom
	MTDataBroadcast
	MTDataWithAck
	MTAck
	MTJoinRoom
	MTLeaveRoom
	MTLeaveAllRooms
	MTDataStreamOpen
	MTDataStream
	MTDataStreamClose
	MTDataStreamOpenWithAck
	MTDataStreamOpenToSocket
	MTDataStreamOpenToRoom
	MTDataStreamOpenBroadcast
)

var messageTypeNames = map[MessageType]string{
	MTError:                   "ERROR",
	MTRegister:                "REGISTER",
	MTData:                    "DATA",
	MTDataToSocket:            "DATA_TO_SOCKET",
	MTDataToRoom:              "DATA_TO_ROOM",
	MTDataBroadcast:           "DATA_BROADCAST",
	MTDataWithAck:             "DATA_WITH_ACK",
	MTAck:                     "ACK",
	MTJoinRoom:                "JOIN_ROOM",
	MTLeaveRoom:               "LEAVE_ROOM",
	MTLeaveAllRooms:           "LEAVE_ALL_ROOMS",
	MTDataStreamOpen:          "DATA_STREAM_OPEN",
	MTDataStream:              "DATA_STREAM",
	MTDataStreamClose:         "DATA_STREAM_CLOSE",
	MTDataStreamOpenWithAck:   "DATA_STREAM_OPEN_WITH_ACK",
	MTDataStreamOpenToSocket:  "DATA_STREAM_OPEN_TO_SOCKET",
	MTDataStreamOpenToRoom:    "DATA_STREAM_OPEN_TO_ROOM",
	MTDataStreamOpenBroadcast: "DATA_STREAM_OPEN_BROADCAST",
}

func (mt MessageType) String() string {
	if name, ok := messageTypeNames[mt]; ok {
		return name
	}

	return "MessageType(" + strconv.Itoa(int(mt)) + ")"
}

// IsRouted is true for the message types whose event field carries packed
// target and except lists.
func (mt MessageType) IsRouted() bool {
	switch mt {
	case MTDataToSocket, MTDataToRoom, MTDataBroadcast,
		MTDataStreamOpenToSocket, MTDataStreamOpenToRoom, MTDataStreamOpenBroadcast:
		return true
	default:
		return false
	}
}

// IsStreamOpen is true for every message type that opens a stream channel.
func (mt MessageType) IsStreamOpen() bool {
	switch mt {
	case MTDataStreamOpen, MTDataStreamOpenWithAck,
		MTDataStreamOpenToSocket, MTDataStreamOpenToRoom, MTDataStreamOpenBroadcast:
		return true
	default:
		return false
	}
}

// DataType tags the encoding of a message's data field.
type DataType uint8

const (
	DataString DataType = iota + 1
	DataBinary
	DataInteger
	DataDecimal
	DataObject
	DataBoolean
	DataEmpty
)

var dataTypeNames = map[DataType]string{
	DataString:  "STRING",
	DataBinary:  "BINARY",
	DataInteger: "INTEGER",
	DataDecimal: "DECIMAL",
	DataObject:  "OBJECT",
	DataBoolean: "BOOLEAN",
	DataEmpty:   "EMPTY",
}

func (dt DataType) String() string {
	if name, ok := dataTypeNames[dt]; ok {
		return name
	}

	return "DataType(" + strconv.Itoa(int(dt)) + ")"
}
