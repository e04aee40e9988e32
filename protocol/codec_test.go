package protocol_test

import (
	"encoding/binary"
	"errors"
	"math"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/luma/relay/protocol"
)

var _ = Describe("Codec", func() {
	var codec *protocol.Codec

	BeforeEach(func() {
		codec = protocol.NewCodec(nil, nil)
	})

	roundTrip := func(msg *protocol.Message) *protocol.Message {
		frame, err := codec.Encode(msg)
		Expect(err).To(Succeed())

		decoded, err := codec.Decode(frame)
		Expect(err).To(Succeed())
		return decoded
	}

	DescribeTable("round trips every data type",
		func(data interface{}, dataType protocol.DataType, expected interface{}) {
			msg := roundTrip(&protocol.Message{
				Type:  protocol.MTDataWithAck,
				ID:    1234,
				Event: "evt",
				Data:  protocol.FromNative(data),
			})

			Expect(msg.Version).To(Equal(protocol.Version))
			Expect(msg.Type).To(Equal(protocol.MTDataWithAck))
			Expect(msg.ID).To(Equal(uint32(1234)))
			Expect(msg.Event).To(Equal("evt"))
			Expect(msg.DataType).To(Equal(dataType))
			Expect(msg.Data.Type()).To(Equal(dataType))
			Expect(msg.Data.Interface()).To(Equal(expected))
		},
		Entry("string", "hello", protocol.DataString, "hello"),
		Entry("empty string", "", protocol.DataString, ""),
		Entry("binary", []byte{0, 1, 2, 255}, protocol.DataBinary, []byte{0, 1, 2, 255}),
		Entry("integer", 256, protocol.DataInteger, int64(256)),
		Entry("negative integer", -99, protocol.DataInteger, int64(-99)),
		Entry("max integer", protocol.MaxInteger, protocol.DataInteger, protocol.MaxInteger),
		Entry("min integer", protocol.MinInteger, protocol.DataInteger, protocol.MinInteger),
		Entry("decimal", 15.67, protocol.DataDecimal, 15.67),
		Entry("true", true, protocol.DataBoolean, true),
		Entry("false", false, protocol.DataBoolean, false),
		Entry("object",
			map[string]interface{}{"a": 5, "b": "string", "c": true},
			protocol.DataObject,
			map[string]interface{}{"a": float64(5), "b": "string", "c": true}),
	)

	It("round trips an empty value", func() {
		msg := roundTrip(&protocol.Message{Type: protocol.MTData, Event: "nothing", Data: protocol.FromNative(nil)})

		Expect(msg.DataType).To(Equal(protocol.DataEmpty))
		Expect(msg.Data.IsEmpty()).To(BeTrue())
		Expect(msg.Data.Interface()).To(BeNil())
	})

	It("writes the documented header layout", func() {
		frame, err := codec.Encode(&protocol.Message{
			Type:  protocol.MTData,
			ID:    0x01020304,
			Event: "ab",
			Data:  protocol.String("xyz"),
		})
		Expect(err).To(Succeed())

		Expect(frame).To(HaveLen(4 + 8 + 4 + 2 + 4 + 3))
		Expect(binary.LittleEndian.Uint32(frame)).To(Equal(uint32(len(frame) - 4)))
		Expect(frame[4]).To(Equal(protocol.Version))
		Expect(frame[5]).To(Equal(byte(0)))
		Expect(frame[6]).To(Equal(byte(protocol.DataString)))
		Expect(frame[7]).To(Equal(byte(protocol.MTData)))
		Expect(binary.LittleEndian.Uint32(frame[8:])).To(Equal(uint32(0x01020304)))
		Expect(binary.LittleEndian.Uint32(frame[12:])).To(Equal(uint32(2)))
		Expect(string(frame[16:18])).To(Equal("ab"))
		Expect(binary.LittleEndian.Uint32(frame[18:])).To(Equal(uint32(3)))
		Expect(string(frame[22:])).To(Equal("xyz"))
	})

	It("packs and unpacks routing targets for routed message types", func() {
		msg := roundTrip(&protocol.Message{
			Type:    protocol.MTDataToRoom,
			Event:   "news",
			Targets: []string{"room1", "room2"},
			Except:  []string{"abc"},
			Data:    protocol.String("hi"),
		})

		Expect(msg.Event).To(Equal("news"))
		Expect(msg.Targets).To(Equal([]string{"room1", "room2"}))
		Expect(msg.Except).To(Equal([]string{"abc"}))
	})

	It("rejects event names containing separators", func() {
		_, err := codec.Encode(&protocol.Message{Type: protocol.MTData, Event: "a|b"})
		Expect(errors.Is(err, protocol.ErrReservedCharacter)).To(BeTrue())

		_, err = codec.Encode(&protocol.Message{Type: protocol.MTDataToSocket, Event: "a", Targets: []string{"x,y"}})
		Expect(errors.Is(err, protocol.ErrReservedCharacter)).To(BeTrue())
	})

	It("rejects integers that don't fit in 6 bytes", func() {
		_, err := codec.Encode(&protocol.Message{Type: protocol.MTData, Event: "n", Data: protocol.Integer(math.MaxInt64)})
		Expect(errors.Is(err, protocol.ErrIntegerOutOfRange)).To(BeTrue())
	})

	It("returns an MTError message for a frame of another version", func() {
		frame, err := codec.Encode(&protocol.Message{Type: protocol.MTData, Event: "e", Data: protocol.String("d")})
		Expect(err).To(Succeed())
		frame[4] = 255

		msg, err := codec.Decode(frame)
		Expect(err).To(Succeed())
		Expect(msg.Type).To(Equal(protocol.MTError))
		Expect(msg.Data.Type()).To(Equal(protocol.DataString))
		Expect(msg.Data.AsString()).To(ContainSubstring("255"))
		Expect(msg.Data.AsString()).To(ContainSubstring("2"))
	})

	It("returns an error for a frame whose fields overrun it", func() {
		frame, err := codec.Encode(&protocol.Message{Type: protocol.MTData, Event: "e", Data: protocol.String("d")})
		Expect(err).To(Succeed())

		binary.LittleEndian.PutUint32(frame[12:], 1000)
		_, err = codec.Decode(frame)
		Expect(err).To(MatchError(protocol.ErrMalformedMessage))

		_, err = codec.Decode(frame[:10])
		Expect(err).To(MatchError(protocol.ErrMessageTooShort))
	})

	It("passes the event name to the object deserializer", func() {
		var seen string
		codec = protocol.NewCodec(nil, func(event string, data []byte) (interface{}, error) {
			seen = event
			return string(data), nil
		})

		msg := roundTrip(&protocol.Message{
			Type:   protocol.MTDataBroadcast,
			Event:  "login",
			Except: []string{"me"},
			Data:   protocol.Object([]string{"Alex"}),
		})

		Expect(seen).To(Equal("login"))
		Expect(msg.Data.AsObject()).To(Equal(`["Alex"]`))
	})

	It("forwards decoded objects without serialising them again", func() {
		msg := roundTrip(&protocol.Message{Type: protocol.MTData, Event: "o", Data: protocol.Object(map[string]string{"k": "v"})})

		codec = protocol.NewCodec(func(v interface{}) ([]byte, error) {
			Fail("serializer should not be called for a decoded object")
			return nil, nil
		}, nil)

		frame, err := codec.Encode(&protocol.Message{Type: protocol.MTData, Event: "o", Data: msg.Data})
		Expect(err).To(Succeed())

		again, err := codec.Decode(frame)
		Expect(err).To(Succeed())
		Expect(again.Data.Get("k").String()).To(Equal("v"))
	})

	Describe("protobuf objects", func() {
		It("round trips a message registered for the event", func() {
			codec = protocol.NewCodec(
				protocol.ProtoSerializer,
				protocol.ProtoDeserializer(map[string]proto.Message{
					"greeting": &wrapperspb.StringValue{},
				}),
			)

			msg := roundTrip(&protocol.Message{
				Type:  protocol.MTData,
				Event: "greeting",
				Data:  protocol.Object(wrapperspb.String("hello")),
			})

			got, ok := msg.Data.AsObject().(*wrapperspb.StringValue)
			Expect(ok).To(BeTrue())
			Expect(proto.Equal(got, wrapperspb.String("hello"))).To(BeTrue())
		})

		It("fails to decode an event with no registered type", func() {
			codec = protocol.NewCodec(protocol.ProtoSerializer, protocol.ProtoDeserializer(nil))

			frame, err := codec.Encode(&protocol.Message{
				Type:  protocol.MTData,
				Event: "unknown",
				Data:  protocol.Object(wrapperspb.Int64(1)),
			})
			Expect(err).To(Succeed())

			_, err = codec.Decode(frame)
			Expect(errors.Is(err, protocol.ErrNoObjectType)).To(BeTrue())
		})

		It("refuses to serialise values that are not proto messages", func() {
			codec = protocol.NewCodec(protocol.ProtoSerializer, nil)

			_, err := codec.Encode(&protocol.Message{Type: protocol.MTData, Event: "x", Data: protocol.Object(struct{}{})})
			Expect(errors.Is(err, protocol.ErrNoObjectSerializer)).To(BeTrue())
		})
	})
})
