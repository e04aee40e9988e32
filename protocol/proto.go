package protocol

import (
	"fmt"

	"google.golang.org/protobuf/proto"
)

// ProtoSerializer is an ObjectSerializer for protobuf messages.
func ProtoSerializer(v interface{}) ([]byte, error) {
	m, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("%T is not a proto.Message: %w", v, ErrNoObjectSerializer)
	}

	return proto.Marshal(m)
}

// ProtoDeserializer returns an ObjectDeserializer that decodes each event's
// payload into a fresh message of the type registered for that event.
func ProtoDeserializer(types map[string]proto.Message) ObjectDeserializer {
	return func(event string, data []byte) (interface{}, error) {
		prototype, ok := types[event]
		if !ok {
			return nil, fmt.Errorf("event '%s': %w", event, ErrNoObjectType)
		}

		m := prototype.ProtoReflect().New().Interface()
		if err := proto.Unmarshal(data, m); err != nil {
			return nil, err
		}

		return m, nil
	}
}
