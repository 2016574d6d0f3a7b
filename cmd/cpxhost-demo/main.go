/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Command cpxhost-demo connects to a CPX host bridge, streams image
// buffers, and prints their metadata. It owns process lifetime:
// SIGINT/SIGTERM wiring and the Prometheus HTTP endpoint live here, not
// inside the library, so embedding the library in a different program
// never drags in global signal handlers.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/nanocockpit/cpxhost/cpx"
	"github.com/nanocockpit/cpxhost/internal/metrics"
	"github.com/nanocockpit/cpxhost/streamer"
	"github.com/nanocockpit/cpxhost/transport"
)

func main() {
	host := flag.String("host", "127.0.0.1", "CPX bridge host")
	port := flag.Int("port", 5000, "CPX bridge port")
	metricsAddr := flag.String("metrics-addr", ":18080", "Prometheus /metrics listen address")
	flag.Parse()

	log := logrus.StandardLogger()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	collector := metrics.New(prometheus.Labels{
		"app":      "cpxhost-demo",
		"hostname": hostname,
		"remote":   fmt.Sprintf("%s:%d", *host, *port),
	})
	prometheus.MustRegister(collector)

	http.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
			log.WithError(err).Error("metrics server exited")
		}
	}()

	reliable := transport.NewReliableTransport(*host, *port, collector, log)
	datagram := transport.NewDatagramTransport(*host, *port, collector, log)

	mux, err := transport.NewMultiplexer(reliable, datagram, log)
	if err != nil {
		log.WithError(err).Fatal("failed to build transport multiplexer")
	}

	client := cpx.NewClient(mux, log)
	s := streamer.New(client, cpx.TargetGAP, cpx.TargetWifiHost, collector, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("shutting down")
		s.Shutdown()
	}()

	for frame := range s.Receive() {
		fmt.Printf("frame id=%d %dx%d bpp=%d format=%d pixels=%d distance_grid=%v\n",
			frame.Metadata.FrameID,
			frame.Metadata.Width, frame.Metadata.Height, frame.Metadata.BitsPerPixel, frame.Metadata.PixelFormat,
			len(frame.Pixels), frame.DistanceGrid != nil)

		s.SendReply(frame.Metadata, nil)
	}
}
