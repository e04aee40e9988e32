package transport_test

import (
	"github.com/luma/relay/protocol"
	"github.com/luma/relay/transport"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Emitter", func() {
	It("calls handlers in registration order", func() {
		e := transport.NewEmitter()

		var calls []string
		e.On("hello", func(ev *transport.Event) {
			calls = append(calls, "first:"+ev.Data.AsString())
		})
		e.On("hello", func(ev *transport.Event) {
			calls = append(calls, "second:"+ev.Data.AsString())
		})

		n := e.Emit(&transport.Event{Name: "hello", Data: protocol.String("world")})
		Expect(n).To(Equal(2))
		Expect(calls).To(Equal([]string{"first:world", "second:world"}))
	})

	It("reports events without listeners", func() {
		e := transport.NewEmitter()
		Expect(e.Emit(&transport.Event{Name: "nobody"})).To(BeZero())
	})

	It("calls only the first handler with EmitFirst", func() {
		e := transport.NewEmitter()
		Expect(e.EmitFirst(&transport.Event{Name: "hello"})).To(BeFalse())

		var calls []string
		e.On("hello", func(*transport.Event) {
			calls = append(calls, "first")
		})
		e.On("hello", func(*transport.Event) {
			calls = append(calls, "second")
		})

		Expect(e.EmitFirst(&transport.Event{Name: "hello"})).To(BeTrue())
		Expect(calls).To(Equal([]string{"first"}))
	})

	It("removes handlers with Off", func() {
		e := transport.NewEmitter()
		e.On("hello", func(*transport.Event) {})
		Expect(e.ListenerCount("hello")).To(Equal(1))

		e.Off("hello")
		Expect(e.ListenerCount("hello")).To(BeZero())
	})
})

var _ = Describe("EmitOptions", func() {
	It("is not routed by default", func() {
		o := transport.NewEmitOptions(transport.Except("a"))
		Expect(o.IsRouted()).To(BeFalse())
		Expect(o.Except).To(Equal([]string{"a"}))
	})

	It("collects targets", func() {
		o := transport.NewEmitOptions(
			transport.ToSockets("a", "b"),
			transport.ToRooms("lobby"),
			transport.Broadcast(),
		)

		Expect(o.IsRouted()).To(BeTrue())
		Expect(o.Sockets).To(Equal([]string{"a", "b"}))
		Expect(o.Rooms).To(Equal([]string{"lobby"}))
		Expect(o.Broadcast).To(BeTrue())
	})
})

var _ = Describe("EmitOptions wire types", func() {
	It("prefers sockets over rooms over broadcast", func() {
		o := transport.NewEmitOptions(transport.ToRooms("r"), transport.ToSockets("s"), transport.Broadcast())
		Expect(o.MessageType()).To(Equal(protocol.MTDataToSocket))
		Expect(o.StreamType()).To(Equal(protocol.MTDataStreamOpenToSocket))
		Expect(o.SendOptions().Targets).To(Equal([]string{"s"}))

		o = transport.NewEmitOptions(transport.ToRooms("r"), transport.Broadcast())
		Expect(o.MessageType()).To(Equal(protocol.MTDataToRoom))
		Expect(o.SendOptions().Targets).To(Equal([]string{"r"}))

		o = transport.NewEmitOptions(transport.Broadcast(), transport.Except("me"))
		Expect(o.MessageType()).To(Equal(protocol.MTDataBroadcast))
		Expect(o.StreamType()).To(Equal(protocol.MTDataStreamOpenBroadcast))
		Expect(o.SendOptions().Targets).To(BeEmpty())
		Expect(o.SendOptions().Except).To(Equal([]string{"me"}))
	})

	It("only asks for acks on direct sends", func() {
		ack := func(protocol.Value) {}

		o := transport.NewEmitOptions(transport.WithAck(ack))
		Expect(o.MessageType()).To(Equal(protocol.MTDataWithAck))
		Expect(o.StreamType()).To(Equal(protocol.MTDataStreamOpenWithAck))
		Expect(o.SendOptions().Ack).NotTo(BeNil())

		o = transport.NewEmitOptions(transport.WithAck(ack), transport.Broadcast())
		Expect(o.SendOptions().Ack).To(BeNil())

		o = transport.NewEmitOptions()
		Expect(o.MessageType()).To(Equal(protocol.MTData))
		Expect(o.StreamType()).To(Equal(protocol.MTDataStreamOpen))
	})
})
