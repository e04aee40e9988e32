package protocol

import (
	"encoding/json"
)

// headerSize covers version, flags, data type, message type and message id.
const headerSize = 1 + 1 + 1 + 1 + 4

// ObjectSerializer turns an application object into the bytes of an OBJECT
// payload.
type ObjectSerializer func(v interface{}) ([]byte, error)

// ObjectDeserializer turns the bytes of an OBJECT payload back into an
// application object. It receives the event name so decoding can depend on
// the event.
type ObjectDeserializer func(event string, data []byte) (interface{}, error)

// Codec encodes and decodes message frames. It is safe for concurrent use
// as long as its serializers are.
type Codec struct {
	serialize   ObjectSerializer
	deserialize ObjectDeserializer
}

// NewCodec returns a Codec using the provided object strategies. Either may
// be nil, in which case JSON is used.
func NewCodec(serializer ObjectSerializer, deserializer ObjectDeserializer) *Codec {
	if serializer == nil {
		serializer = JSONSerializer
	}

	if deserializer == nil {
		deserializer = JSONDeserializer
	}

	return &Codec{
		serialize:   serializer,
		deserialize: deserializer,
	}
}

func JSONSerializer(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func JSONDeserializer(event string, data []byte) (interface{}, error) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}

	return v, nil
}
