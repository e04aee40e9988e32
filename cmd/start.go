package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/tidwall/sjson"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/relay/internal/env"
	"github.com/luma/relay/router"
	"github.com/luma/relay/server"
)

var (
	// The host to listen on
	host string

	// The port to listen for http requests on
	httpPort string

	// The ports to listen for tcp clients on, one server per port
	ports []int

	// Prefix for server ids when more than one port is given
	prefix string
)

func init() {
	flags := StartCmd.PersistentFlags()

	flags.IntSliceVarP(&ports, "port", "p", []int{7363}, "The ports to listen for client connections on")
	flags.StringVar(&httpPort, "http-port", "7362", "The port to listen to HTTP requests on")
	flags.StringVarP(&host, "host", "a", "0.0.0.0", "The host to listen on")
	flags.StringVar(&prefix, "prefix", router.DefaultPrefix, "The id prefix of each server when routing between several ports")
}

var StartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start up the relay server",
	Long: `Start up the relay server

Usage
	relay start
	relay start --port 7363 --port 7364

When more than one port is given each port gets its own server and
messages are routed between all of them.
`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		conf, err := env.LoadConfig(ctx)
		if err != nil {
			return err
		}

		log, err := env.MakeLogger(conf.LogLevel)
		if err != nil {
			return err
		}
		defer log.Sync() //nolint:errcheck

		fileLimit, err := setFileLimit()
		if err != nil {
			return err
		}

		log.Info("Set file limit", zap.Uint64("fileLimit", fileLimit))

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		servers, rt, err := startServers(ctx, conf, reg, log)
		if err != nil {
			return err
		}

		engine := setupRouter(conf.DebugHTTP, log)

		// Ping test
		engine.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		engine.GET("/stats", func(c *gin.Context) {
			stats, err := snapshot(servers)
			if err != nil {
				c.AbortWithError(http.StatusInternalServerError, err) //nolint:errcheck
				return
			}

			c.Data(http.StatusOK, "application/json", stats)
		})

		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

		// Websocket clients land on the first server, the router takes them
		// anywhere else.
		engine.GET("/ws", gin.WrapH(servers[0].WebsocketHandler(&websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		})))

		s := &http.Server{
			Addr:    net.JoinHostPort(host, httpPort),
			Handler: engine,
		}

		// Initializing the server in a goroutine so that
		// it won't block the graceful shutdown handling below
		go func() {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Http server errored", zap.Error(err))
			}
		}()

		log.Info("Listening",
			zap.Any("config", conf),
			zap.String("host", host),
			zap.Ints("ports", ports),
			zap.String("httpPort", httpPort))

		// Listen for the interrupt signal.
		<-ctx.Done()

		// Restore default behavior on the interrupt signal and notify user of shutdown.
		signalStop()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")

		// The context is used to inform the server it has 5 seconds to finish
		// the request it is currently handling
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.SetKeepAlivesEnabled(false)

		if err := s.Shutdown(ctx); err != nil {
			log.Error("Http server forced to shutdown", zap.Error(err))
		}

		if rt != nil {
			err = rt.Close()
		} else {
			err = servers[0].Close()
		}

		if err != nil {
			log.Error("Relay server forced to shutdown", zap.Error(err))
		}

		log.Info("Exiting")
		return nil
	},
}

// startServers starts one server per port. With more than one port the
// servers are joined by a router, which is returned as well.
func startServers(ctx context.Context, conf *env.Config, reg prometheus.Registerer, log *zap.Logger) ([]*server.Server, *router.Router, error) {
	var rt *router.Router
	if len(ports) > 1 {
		rt = router.New(router.Options{Log: log.Named("router")})
		rt.OnError(func(serverID string, err error) {
			log.Warn("Server error", zap.String("serverID", serverID), zap.Error(err))
		})
	}

	servers := make([]*server.Server, 0, len(ports))

	for _, port := range ports {
		srv := server.New(server.Options{
			Host:         host,
			Port:         port,
			Reuseport:    conf.Reuseport,
			NumListeners: conf.NumListeners,
			ConnOptions:  conf.ConnOptions(),
			Registerer:   prometheus.WrapRegistererWith(prometheus.Labels{"port": strconv.Itoa(port)}, reg),
			Log:          log.Named("server"),
		})

		if rt != nil {
			if _, err := rt.AddServer(srv, prefix); err != nil {
				return nil, nil, multierr.Append(err, closeAll(servers))
			}
		} else {
			srv.OnError(func(err error) {
				log.Warn("Server error", zap.Error(err))
			})
		}

		srv.OnListening(func(addr net.Addr) {
			log.Info("Accepting clients", zap.String("serverID", srv.ID()), zap.Stringer("addr", addr))
		})

		if err := srv.Listen(ctx); err != nil {
			return nil, nil, multierr.Append(err, closeAll(append(servers, srv)))
		}

		servers = append(servers, srv)
	}

	return servers, rt, nil
}

func closeAll(servers []*server.Server) (err error) {
	for _, srv := range servers {
		err = multierr.Append(err, srv.Close())
	}

	return err
}

// snapshot merges the snapshots of every server into one document.
func snapshot(servers []*server.Server) ([]byte, error) {
	out := []byte(`{"servers":[]}`)

	for _, srv := range servers {
		snap, err := srv.Snapshot()
		if err != nil {
			return nil, err
		}

		if out, err = sjson.SetRawBytes(out, "servers.-1", snap); err != nil {
			return nil, err
		}
	}

	return out, nil
}

func setupRouter(debugHTTP bool, log *zap.Logger) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Add a ginzap middleware, which:
	//   - Logs all requests, like a combined access and error log.
	//   - Logs to stdout.
	//   - RFC3339 with UTC time format.
	r.Use(ginzap.GinzapWithConfig(log.Named("http"), &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/ping", "/metrics"},
	}))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(log, true))

	return r
}

func setFileLimit() (uint64, error) {
	var rLimit syscall.Rlimit

	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	rLimit.Cur = rLimit.Max
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	return rLimit.Cur, nil
}
