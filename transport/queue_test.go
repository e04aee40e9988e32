package transport_test

import (
	"github.com/luma/relay/transport"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Queue", func() {
	It("keeps frames in order", func() {
		q := transport.NewQueue(0)

		for _, f := range []string{"a", "b", "c"} {
			_, evicted := q.Push([]byte(f), 0)
			Expect(evicted).To(BeFalse())
		}

		Expect(q.Len()).To(Equal(3))
		Expect(q.Frames()).To(Equal([][]byte{[]byte("a"), []byte("b"), []byte("c")}))
	})

	It("evicts the oldest frame when full", func() {
		q := transport.NewQueue(2)

		q.Push([]byte("a"), 7)
		q.Push([]byte("b"), 0)

		evictedID, evicted := q.Push([]byte("c"), 0)
		Expect(evicted).To(BeTrue())
		Expect(evictedID).To(BeEquivalentTo(7))
		Expect(q.Frames()).To(Equal([][]byte{[]byte("b"), []byte("c")}))

		evictedID, evicted = q.Push([]byte("d"), 0)
		Expect(evicted).To(BeTrue())
		Expect(evictedID).To(BeZero())
		Expect(q.Len()).To(Equal(2))
	})
})
