// Command raknet-echo is a minimal server built on this module's façade: it
// binds a UDP socket, accepts peers, and echoes every application payload
// back to its sender. It exists to exercise Bind/Send/Close end to end, the
// way core/main.go exercised the teacher's SA-MP server.
package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/samp-server-go/raknet"
	"github.com/samp-server-go/raknet/pkg/logger"
)

const version = "1.0.0"

func main() {
	addr := flag.String("addr", "0.0.0.0:7777", "UDP address to bind")
	password := flag.String("password", "", "require this password on ConnectionRequest")
	metricsAddr := flag.String("metrics-addr", ":9090", "address to serve /metrics on; empty disables it")
	flag.Parse()

	logger.Banner("RakNet Echo Server", version)

	registry := prometheus.NewRegistry()

	var transportInstance *raknet.Transport
	opts := []raknet.Option{
		raknet.WithPassword(*password),
		raknet.WithMetrics("raknet_echo", registry),
		raknet.OnConnected(func(peerID string) {
			logger.Success("peer %s connected", peerID)
		}),
		raknet.OnDisconnected(func(peerID string, reason raknet.DisconnectReason) {
			logger.Warn("peer %s disconnected: %s", peerID, reason)
		}),
		raknet.OnUserPacket(func(peerID string, payload []byte) {
			logger.Debug("peer %s sent %d bytes, echoing back", peerID, len(payload))
			// Callbacks run on the transport's event loop, and Send waits for
			// that same loop, so the echo is sent from its own goroutine.
			go func() {
				if err := transportInstance.Send(peerID, payload, raknet.ReliableOrdered, 0); err != nil {
					logger.Error("echo to %s failed: %v", peerID, err)
				}
			}()
		}),
	}

	t, err := raknet.Bind(*addr, opts...)
	if err != nil {
		logger.Fatal("bind %s: %v", *addr, err)
	}
	transportInstance = t

	logger.Info("listening on %s", *addr)

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		go func() {
			logger.Info("serving metrics on %s/metrics", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logger.Error("metrics server stopped: %v", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down...")
	t.Close("")
	logger.Success("stopped")
}
