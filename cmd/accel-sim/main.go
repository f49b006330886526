// Copyright 2026 Esteban Alvarez. All Rights Reserved.
//
// Created: August 2026
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main provides the entry point for the accelerometer pipeline demo.
//
// This application is a concrete, runnable demonstration of the pipeline
// library: a simulated accelerometer driven from a wall-clock ticker feeds
// any number of subscriber sessions, each with its own sampling rate, while
// the reconciler folds them all into one hardware configuration. It shows:
// 1. Multiple sessions at different rates sharing one sensor.
// 2. Exact rational subsampling (watch a 10 Hz session ride a 25 Hz sensor).
// 3. Synchronous peeks that temporarily demote the FIFO and restore it.
// 4. Optional idempotent chunk recording (Redis Lua script or a JSONL file).
// 5. Prometheus metrics for the whole pipeline on /metrics.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"accelmgr"
	"accelmgr/internal/pipeline"
	"accelmgr/internal/recorder"
	"accelmgr/pkg/accelservice"
)

func main() {
	// 1. Parse configuration flags.
	// - rates: one subscriber session per entry; the hardware runs at the max.
	// - samples_per_update: chunk size every session asks for (max 25).
	// - tick: how often the simulated sensor advances (wall clock -> samples).
	// - peek_every: issue a synchronous Peek on this cadence (0 disables).
	// - recorder: where delivered chunks are recorded. "log" uses an in-process
	//   stand-in for Redis so the Lua path is visible without a live server.
	rates := flag.String("rates", "25,10", "Comma-separated subscriber sampling rates in Hz (10, 25, 50, 100)")
	samplesPerUpdate := flag.Int("samples_per_update", 10, "Samples per delivery chunk for every session (1..25)")
	duration := flag.Duration("duration", 30*time.Second, "How long to run before shutting down (0 = until Ctrl+C)")
	tick := flag.Duration("tick", 20*time.Millisecond, "Simulated sensor advance interval")
	peekEvery := flag.Duration("peek_every", 0, "If > 0, peek the sensor on this cadence")
	metricsAddr := flag.String("metrics_addr", "", "If non-empty, expose Prometheus /metrics on this address (e.g., :9090)")
	recorderKind := flag.String("recorder", "none", "Chunk recorder: none | log | redis | file")
	redisAddr := flag.String("redis_addr", "127.0.0.1:6379", "Redis address for -recorder=redis")
	outPath := flag.String("out", "accel-chunks.jsonl", "Output path for -recorder=file")
	flag.Parse()

	subscriberRates, err := parseRates(*rates)
	if err != nil {
		log.Fatalf("bad -rates: %v", err)
	}

	// 2. Initialize core components: the simulated sensor, vibe history,
	// the pipeline manager, and the session service on top.
	drv := pipeline.NewSimDriver()
	vibe := pipeline.NewVibeHistory()
	mgr := pipeline.New(pipeline.Config{Driver: drv, Vibe: vibe, NowMS: drv.NowMS})
	svc := accelservice.New(mgr, vibe)

	// 3. Pick the chunk recorder.
	var rec recorder.ChunkRecorder
	var fileRec *recorder.FileRecorder
	switch *recorderKind {
	case "none":
	case "log":
		rec = recorder.NewRedisRecorder(recorder.LoggingRedisEvaler{}, 0)
	case "redis":
		rec = recorder.NewRedisRecorder(recorder.NewGoRedisEvaler(*redisAddr), 24*time.Hour)
	case "file":
		fileRec, err = recorder.NewFileRecorder(*outPath)
		if err != nil {
			log.Fatalf("open %s: %v", *outPath, err)
		}
		rec = fileRec
	default:
		log.Fatalf("unknown -recorder %q", *recorderKind)
	}

	// 4. Create one session per requested rate. Each session drains its own
	// mailbox on its own goroutine, the way a real client task would.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type sessionStats struct {
		rate    accelmgr.SamplingRate
		samples atomic.Int64
		vibes   atomic.Int64
	}
	stats := make([]*sessionStats, len(subscriberRates))
	for i, rate := range subscriberRates {
		st := &sessionStats{rate: rate}
		stats[i] = st

		box := pipeline.NewMailboxSink(16)
		sess := svc.NewSession(box)
		if rec != nil {
			sess.SetRecorder(rec)
		}
		if err := sess.SubscribeData(rate, *samplesPerUpdate, func(data []accelservice.AccelData) {
			st.samples.Add(int64(len(data)))
			for _, d := range data {
				if d.DidVibrate {
					st.vibes.Add(1)
				}
			}
		}); err != nil {
			log.Fatalf("subscribe %v: %v", rate, err)
		}
		go func() { _ = box.Drain(ctx) }()
	}
	hwRate, hwDepth := mgr.HardwareConfig()
	fmt.Printf("accel-sim: %d sessions, hardware at %v with FIFO depth %d\n",
		len(subscriberRates), hwRate, hwDepth)

	// 5. Drive the simulated sensor from the wall clock, with a short vibe
	// burst every few seconds so the DidVibrate flags show up.
	go func() {
		ticker := time.NewTicker(*tick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				drv.Advance(uint64(tick.Milliseconds()))
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		for {
			select {
			case <-time.After(5 * time.Second):
				vibe.VibeStart(drv.NowMS())
				time.Sleep(200 * time.Millisecond)
				vibe.VibeEnd(drv.NowMS())
			case <-ctx.Done():
				return
			}
		}
	}()
	if *peekEvery > 0 {
		go func() {
			ticker := time.NewTicker(*peekEvery)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if r, err := mgr.Peek(); err != nil {
						log.Printf("peek: %v", err)
					} else {
						fmt.Printf("peek: x=%d y=%d z=%d at t=%dms\n",
							r.Sample.X, r.Sample.Y, r.Sample.Z, r.TimestampMS)
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	// 6. Periodic status line.
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				var parts []string
				for _, st := range stats {
					parts = append(parts, fmt.Sprintf("%v: %d samples (%d vibing)",
						st.rate, st.samples.Load(), st.vibes.Load()))
				}
				fmt.Printf("accel-sim: %s\n", strings.Join(parts, " | "))
			case <-ctx.Done():
				return
			}
		}
	}()

	// 7. Optionally expose Prometheus metrics.
	var metricsServer *http.Server
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			fmt.Printf("accel-sim: metrics on http://%s/metrics\n", *metricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("could not listen on %s: %v", *metricsAddr, err)
			}
		}()
	}

	// 8. Wait for a signal or the configured duration, then shut down.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	if *duration > 0 {
		select {
		case <-stop:
		case <-time.After(*duration):
		}
	} else {
		<-stop
	}
	fmt.Println("\nShutting down...")
	cancel()

	// Final flush of the file recorder so sub-second remainders are not lost.
	if fileRec != nil {
		if err := fileRec.Close(); err != nil {
			log.Printf("closing %s: %v", *outPath, err)
		}
	}
	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("metrics server shutdown: %v", err)
		}
	}

	for _, st := range stats {
		fmt.Printf("  %v session: %d samples delivered, %d flagged as vibration\n",
			st.rate, st.samples.Load(), st.vibes.Load())
	}
	fmt.Println("Stopped.")
}

// parseRates turns "25,10" into validated sampling rates.
func parseRates(s string) ([]accelmgr.SamplingRate, error) {
	var rates []accelmgr.SamplingRate
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		hz, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", part)
		}
		rate := accelmgr.SamplingRate(hz)
		if !rate.Valid() {
			return nil, fmt.Errorf("%d Hz is not a supported rate (%v)", hz, accelmgr.SupportedRates)
		}
		rates = append(rates, rate)
	}
	if len(rates) == 0 {
		return nil, fmt.Errorf("no rates given")
	}
	return rates, nil
}
