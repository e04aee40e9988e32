package server_test

import (
	"context"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tidwall/gjson"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/relay/client"
	"github.com/luma/relay/server"
	"github.com/luma/relay/transport"
)

var _ = Describe("Server", func() {
	var (
		srv     *server.Server
		clients []*client.Socket
	)

	connect := func() *client.Socket {
		c := connectClient(pipeDialer(srv), transport.WithReconnect(false))
		clients = append(clients, c)
		return c
	}

	BeforeEach(func() {
		srv = server.New(server.Options{})
		clients = nil
	})

	AfterEach(func() {
		for _, c := range clients {
			c.Destroy()
		}
		Expect(srv.Close()).To(Succeed())
	})

	Describe("registration", func() {
		It("assigns every client a unique id", func() {
			connections := make(chan *server.Socket, 4)
			srv.OnConnection(func(sock *server.Socket) {
				connections <- sock
			})

			a, b := connect(), connect()
			Expect(a.ID()).NotTo(Equal(b.ID()))
			Expect(srv.Sockets()).To(ConsistOf(a.ID(), b.ID()))

			var sock *server.Socket
			Eventually(connections).Should(Receive(&sock))
			Expect(sock.ID()).To(Equal(a.ID()))
		})

		It("forgets sockets that disconnect", func() {
			a, b := connect(), connect()
			srv.Join(a.ID(), "lobby")
			srv.Join(b.ID(), "lobby")

			a.Destroy()

			Eventually(srv.Sockets).Should(ConsistOf(b.ID()))
			Eventually(func() []string { return srv.Members("lobby") }).Should(ConsistOf(b.ID()))

			b.Destroy()

			Eventually(srv.Sockets).Should(BeEmpty())
			Eventually(srv.Rooms).Should(BeEmpty())
		})

		It("ends every socket on close", func() {
			a := connect()

			ended := make(chan struct{}, 1)
			a.OnNotify(transport.NotifyEnd, func(error) {
				ended <- struct{}{}
			})

			closed := make(chan struct{}, 1)
			srv.OnClose(func() {
				closed <- struct{}{}
			})

			Expect(srv.Close()).To(Succeed())
			Eventually(ended).Should(Receive())
			Eventually(closed).Should(Receive())

			_, err := srv.Accept(nil)
			Expect(err).To(MatchError(server.ErrServerClosed))
		})
	})

	Describe("rooms", func() {
		It("deletes rooms once they are empty", func() {
			a := connect()

			srv.Join(a.ID(), "r")
			Expect(srv.Rooms()).To(Equal([]string{"r"}))

			srv.Leave(a.ID(), "r")
			Expect(srv.Rooms()).To(BeEmpty())
		})

		It("keeps rooms that still have members", func() {
			a, b := connect(), connect()

			srv.Join(a.ID(), "r")
			srv.Join(b.ID(), "r")
			srv.Leave(a.ID(), "r")

			Expect(srv.Rooms()).To(Equal([]string{"r"}))
			Expect(srv.Members("r")).To(Equal([]string{b.ID()}))
		})

		It("is idempotent", func() {
			a := connect()

			srv.Join(a.ID(), "r")
			srv.Join(a.ID(), "r")
			Expect(srv.Members("r")).To(Equal([]string{a.ID()}))

			srv.Leave(a.ID(), "elsewhere")
			srv.Leave("nobody", "r")
			srv.Join("nobody", "r")
			Expect(srv.Members("r")).To(Equal([]string{a.ID()}))

			sock, ok := srv.Socket(a.ID())
			Expect(ok).To(BeTrue())
			Expect(sock.Rooms()).To(Equal([]string{"r"}))
		})

		It("leaves every room at once", func() {
			a := connect()

			srv.Join(a.ID(), "r1", "r2")
			srv.LeaveAll(a.ID())

			Expect(srv.Rooms()).To(BeEmpty())
		})

		It("follows join and leave messages from clients", func() {
			a := connect()

			Expect(a.Join("r1", "r2")).To(Succeed())
			Eventually(srv.Rooms).Should(Equal([]string{"r1", "r2"}))

			Expect(a.Leave("r1")).To(Succeed())
			Eventually(srv.Rooms).Should(Equal([]string{"r2"}))

			Expect(a.LeaveAll()).To(Succeed())
			Eventually(srv.Rooms).Should(BeEmpty())
		})

		It("rejects room names with separators", func() {
			a := connect()
			Expect(a.Join("a,b")).NotTo(Succeed())
		})

		It("skips unaddressable room names joined on the server", func() {
			a := connect()

			sock, ok := srv.Socket(a.ID())
			Expect(ok).To(BeTrue())

			sock.Join("a,b", "lobby", "x|y", "")
			Expect(srv.Rooms()).To(Equal([]string{"lobby"}))
			Expect(sock.Rooms()).To(Equal([]string{"lobby"}))

			srv.Join(a.ID(), "c,d")
			Expect(srv.Rooms()).To(Equal([]string{"lobby"}))
		})
	})

	Describe("emit", func() {
		It("broadcasts to everyone but the excluded", func() {
			a, b, c := connect(), connect(), connect()
			srv.Join(b.ID(), "r")

			aEvents, bEvents, cEvents := record(a, "news"), record(b, "news"), record(c, "news")

			n, err := srv.Emit("news", "hi", transport.Except(a.ID()))
			Expect(err).To(Succeed())
			Expect(n).To(Equal(2))

			Eventually(bEvents).Should(Receive())
			Eventually(cEvents).Should(Receive())
			Consistently(aEvents, 100*time.Millisecond).ShouldNot(Receive())
		})

		It("prefers sockets over rooms", func() {
			a, b := connect(), connect()
			srv.Join(b.ID(), "r")

			aEvents, bEvents := record(a, "news"), record(b, "news")

			n, err := srv.Emit("news", "hi", transport.ToSockets(a.ID(), "gone"), transport.ToRooms("r"))
			Expect(err).To(Succeed())
			Expect(n).To(Equal(1))

			Eventually(aEvents).Should(Receive())
			Consistently(bEvents, 100*time.Millisecond).ShouldNot(Receive())
		})

		It("delivers once to members of several rooms", func() {
			a := connect()
			srv.Join(a.ID(), "r1", "r2")

			n, err := srv.Emit("news", "hi", transport.ToRooms("r1", "r2", "missing"))
			Expect(err).To(Succeed())
			Expect(n).To(Equal(1))
		})

		It("rejects event names with separators", func() {
			_, err := srv.Emit("a|b", nil)
			Expect(err).To(HaveOccurred())
		})

		It("emits from a server socket to its own client", func() {
			a := connect()
			events := record(a, "direct")

			sock, _ := srv.Socket(a.ID())
			Expect(sock.Emit("direct", 7)).To(Succeed())

			var ev *transport.Event
			Eventually(events).Should(Receive(&ev))
			Expect(ev.Data.AsInt()).To(BeEquivalentTo(7))
		})

		It("routes client messages", func() {
			a, b, c := connect(), connect(), connect()
			Expect(a.Join("r")).To(Succeed())
			Expect(b.Join("r")).To(Succeed())
			Eventually(func() []string { return srv.Members("r") }).Should(HaveLen(2))

			aEvents, bEvents, cEvents := record(a, "chat"), record(b, "chat"), record(c, "chat")

			_, err := a.Emit("chat", "to everyone", transport.Broadcast())
			Expect(err).To(Succeed())
			Eventually(bEvents).Should(Receive())
			Eventually(cEvents).Should(Receive())

			_, err = a.Emit("chat", "to c", transport.ToSockets(c.ID()))
			Expect(err).To(Succeed())
			var ev *transport.Event
			Eventually(cEvents).Should(Receive(&ev))
			Expect(ev.Data.AsString()).To(Equal("to c"))

			_, err = a.Emit("chat", "to the room", transport.ToRooms("r"))
			Expect(err).To(Succeed())
			Eventually(bEvents).Should(Receive(&ev))
			Expect(ev.Data.AsString()).To(Equal("to the room"))

			Consistently(aEvents, 100*time.Millisecond).ShouldNot(Receive())
			Expect(cEvents).To(BeEmpty())
		})

		It("forwards objects as they were sent", func() {
			a, b := connect(), connect()
			events := record(b, "profile")

			_, err := a.Emit("profile", map[string]interface{}{"name": "rolly", "age": 3}, transport.ToSockets(b.ID()))
			Expect(err).To(Succeed())

			var ev *transport.Event
			Eventually(events).Should(Receive(&ev))
			Expect(ev.Data.Get("name").String()).To(Equal("rolly"))
			Expect(ev.Data.Get("age").Int()).To(BeEquivalentTo(3))
		})
	})

	Describe("stream", func() {
		readAll := func(c *client.Socket, event string) chan []string {
			out := make(chan []string, 1)
			c.On(event, func(ev *transport.Event) {
				go func() {
					var chunks []string
					for {
						chunk, err := ev.Stream.ReadChunk()
						if err != nil {
							break
						}
						chunks = append(chunks, string(chunk))
					}
					out <- chunks
				}()
			})

			return out
		}

		It("fans a server socket's broadcast out to everyone else", func() {
			a, b, c := connect(), connect(), connect()
			aChunks, bChunks, cChunks := readAll(a, "image"), readAll(b, "image"), readAll(c, "image")

			sock, ok := srv.Socket(a.ID())
			Expect(ok).To(BeTrue())

			w, err := sock.Stream("image", "cat.png", transport.Broadcast())
			Expect(err).To(Succeed())

			for _, chunk := range []string{"one", "two", "three"} {
				_, err := w.Write([]byte(chunk))
				Expect(err).To(Succeed())
			}
			Expect(w.Close()).To(Succeed())

			Eventually(bChunks).Should(Receive(Equal([]string{"one", "two", "three"})))
			Eventually(cChunks).Should(Receive(Equal([]string{"one", "two", "three"})))
			Consistently(aChunks, 100*time.Millisecond).ShouldNot(Receive())
		})

		It("keeps streaming when a target goes away", func() {
			a, b := connect(), connect()
			bChunks := readAll(b, "video")

			w, err := srv.Stream("video", nil)
			Expect(err).To(Succeed())
			Expect(w.Len()).To(Equal(2))

			a.Destroy()
			Eventually(srv.Sockets).Should(ConsistOf(b.ID()))

			for _, chunk := range []string{"x", "y"} {
				_, err := w.Write([]byte(chunk))
				Expect(err).To(Succeed())
			}
			Expect(w.Close()).To(Succeed())

			Eventually(bChunks).Should(Receive(Equal([]string{"x", "y"})))
		})

		It("routes client streams", func() {
			a, b := connect(), connect()

			bodies := make(chan string, 1)
			b.On("upload", func(ev *transport.Event) {
				go func() {
					body, _ := io.ReadAll(ev.Stream)
					bodies <- ev.Data.AsString() + ":" + string(body)
				}()
			})

			w, err := a.Stream("upload", "notes.txt", transport.ToSockets(b.ID()))
			Expect(err).To(Succeed())

			w.Write([]byte("hello "))
			w.Write([]byte("there"))
			Expect(w.Close()).To(Succeed())

			Eventually(bodies).Should(Receive(Equal("notes.txt:hello there")))
		})
	})

	Describe("snapshot", func() {
		It("describes sockets and rooms", func() {
			a, b := connect(), connect()
			srv.Join(a.ID(), "lobby", "a.b", "123")
			srv.Join(b.ID(), "lobby")

			doc, err := srv.Snapshot()
			Expect(err).To(Succeed())
			Expect(gjson.ValidBytes(doc)).To(BeTrue())

			Expect(gjson.GetBytes(doc, "stats.sockets").Int()).To(BeEquivalentTo(2))
			Expect(gjson.GetBytes(doc, "stats.rooms").Int()).To(BeEquivalentTo(3))
			Expect(gjson.GetBytes(doc, "sockets.#").Int()).To(BeEquivalentTo(2))
			Expect(gjson.GetBytes(doc, "rooms.lobby.#").Int()).To(BeEquivalentTo(2))
			Expect(gjson.GetBytes(doc, `rooms.a\.b.0`).String()).To(Equal(a.ID()))
			Expect(gjson.GetBytes(doc, "rooms.123.0").String()).To(Equal(a.ID()))
		})
	})

	Describe("metrics", func() {
		It("tracks sockets and rooms", func() {
			reg := prometheus.NewRegistry()
			srv = server.New(server.Options{Registerer: reg})

			a := connect()
			srv.Join(a.ID(), "r")

			_, err := srv.Emit("news", "hi")
			Expect(err).To(Succeed())

			values := map[string]float64{}
			families, err := reg.Gather()
			Expect(err).To(Succeed())
			for _, f := range families {
				for _, m := range f.GetMetric() {
					switch {
					case m.GetGauge() != nil:
						values[f.GetName()] += m.GetGauge().GetValue()
					case m.GetCounter() != nil:
						values[f.GetName()] += m.GetCounter().GetValue()
					}
				}
			}

			Expect(values).To(HaveKeyWithValue("relay_sockets", 1.0))
			Expect(values).To(HaveKeyWithValue("relay_rooms", 1.0))
			Expect(values).To(HaveKeyWithValue("relay_connections_total", 1.0))
			Expect(values).To(HaveKeyWithValue("relay_deliveries_total", 1.0))
		})
	})

	Describe("listeners", func() {
		It("accepts tcp connections", func() {
			srv = server.New(server.Options{Host: "127.0.0.1"})

			listening := make(chan struct{}, 1)
			srv.OnListening(func(_ net.Addr) {
				listening <- struct{}{}
			})

			Expect(srv.Listen(context.Background())).To(Succeed())
			Eventually(listening).Should(Receive())
			Expect(srv.Addrs()).To(HaveLen(1))

			c := connectClient(transport.TCPDialer(srv.Addrs()[0].String()), transport.WithReconnect(false))
			clients = append(clients, c)

			Eventually(srv.Sockets).Should(ConsistOf(c.ID()))
		})

		It("runs several accept loops with reuseport", func() {
			srv = server.New(server.Options{Host: "127.0.0.1", Reuseport: true, NumListeners: 2})

			Expect(srv.Listen(context.Background())).To(Succeed())
			Expect(srv.NumListeners()).To(Equal(2))

			addrs := srv.Addrs()
			Expect(addrs[0].String()).To(Equal(addrs[1].String()))

			c := connectClient(transport.TCPDialer(addrs[0].String()), transport.WithReconnect(false))
			clients = append(clients, c)
		})

		It("closes when the context is done", func() {
			srv = server.New(server.Options{Host: "127.0.0.1"})

			closed := make(chan struct{}, 1)
			srv.OnClose(func() {
				closed <- struct{}{}
			})

			ctx, cancel := context.WithCancel(context.Background())
			Expect(srv.Listen(ctx)).To(Succeed())

			cancel()
			Eventually(closed).Should(Receive())
			Expect(srv.NumListeners()).To(BeZero())
		})

		It("accepts websocket connections", func() {
			httpServer := httptest.NewServer(srv.WebsocketHandler(nil))
			defer httpServer.Close()

			url := "ws" + strings.TrimPrefix(httpServer.URL, "http")
			c := connectClient(transport.WebsocketDialer(url, nil), transport.WithReconnect(false))
			clients = append(clients, c)

			events := record(c, "news")
			_, err := srv.Emit("news", "over websockets")
			Expect(err).To(Succeed())

			var ev *transport.Event
			Eventually(events).Should(Receive(&ev))
			Expect(ev.Data.AsString()).To(Equal("over websockets"))
		})
	})
})
