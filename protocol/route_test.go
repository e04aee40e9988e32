package protocol_test

import (
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/relay/protocol"
)

var _ = Describe("Route", func() {
	It("packs an event with no targets as the bare event", func() {
		Expect(protocol.Route{Event: "news"}.Pack()).To(Equal("news"))
	})

	It("packs targets and except lists", func() {
		Expect(protocol.Route{Event: "news", Targets: []string{"a", "b"}}.Pack()).To(Equal("news|a,b"))
		Expect(protocol.Route{Event: "news", Targets: []string{"a"}, Except: []string{"x", "y"}}.Pack()).To(Equal("news|a|x,y"))
		Expect(protocol.Route{Event: "news", Except: []string{"x"}}.Pack()).To(Equal("news||x"))
	})

	It("parses what it packs", func() {
		for _, r := range []protocol.Route{
			{Event: "news"},
			{Event: "news", Targets: []string{"a", "b"}},
			{Event: "news", Targets: []string{"a"}, Except: []string{"x", "y"}},
			{Event: "news", Except: []string{"x"}},
		} {
			packed, err := r.Pack()
			Expect(err).To(Succeed())
			Expect(protocol.ParseRoute(packed)).To(Equal(r))
		}
	})

	It("rejects separators in any name", func() {
		_, err := protocol.Route{Event: "a,b"}.Pack()
		Expect(errors.Is(err, protocol.ErrReservedCharacter)).To(BeTrue())

		_, err = protocol.Route{Event: "a", Except: []string{"x|y"}}.Pack()
		Expect(errors.Is(err, protocol.ErrReservedCharacter)).To(BeTrue())
	})
})
