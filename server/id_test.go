package server_test

import (
	"strings"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/relay/server"
)

var _ = Describe("GenerateID", func() {
	It("returns short ids", func() {
		id, err := server.GenerateID("", func(string) bool { return false })
		Expect(err).To(Succeed())
		Expect(id).To(HaveLen(4))
	})

	It("prefixes ids", func() {
		id, err := server.GenerateID("sys/ab", func(string) bool { return false })
		Expect(err).To(Succeed())
		Expect(id).To(HavePrefix("sys/ab/"))
	})

	It("retries with longer ids on collision", func() {
		collisions := 0
		id, err := server.GenerateID("", func(string) bool {
			collisions++
			return collisions <= 5
		})

		Expect(err).To(Succeed())
		Expect(len(id)).To(BeNumerically(">", 4))
	})

	It("gives up eventually", func() {
		_, err := server.GenerateID("", func(string) bool { return true })
		Expect(err).To(MatchError(server.ErrIDExhausted))
	})

	It("never uses the route separators", func() {
		for i := 0; i < 100; i++ {
			id, err := server.GenerateID("", func(string) bool { return false })
			Expect(err).To(Succeed())
			Expect(strings.ContainsAny(id, "|,")).To(BeFalse())
		}
	})
})
