package protocol

// Message is the logical unit carried by one frame.
type Message struct {
	Version  uint8
	DataType DataType
	Type     MessageType

	// ID correlates acks and stream chunks. Zero means no id was needed.
	ID uint32

	// Event is the bare event name. For routed message types the packed
	// target and except lists are split out into Targets and Except.
	Event   string
	Targets []string
	Except  []string

	Data Value
}

// Route returns the routing part of a routed message.
func (m *Message) Route() Route {
	return Route{Event: m.Event, Targets: m.Targets, Except: m.Except}
}
