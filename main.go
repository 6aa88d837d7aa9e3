// Copyright (C) 2014 Ian Bishop
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, write to the Free Software Foundation, Inc.,
// 51 Franklin Street, Fifth Floor, Boston, MA 02110-1301 USA.

// Package sdrscribe monitors several narrowband FM channels inside one
// wideband rtlsdr capture, recording and transcribing each transmission.
//
// sdrscribe requires rtlsdr library
//
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	defaultBufLen        = 16384
	autoGain             = -100
	waveSampleRate       = 44100
	transcribeSampleRate = 16000
	shutdownTimeout      = 5 * time.Second
)

func main() {
	var (
		cliCfgFile  = flag.String("c", "", "configuration file to load parameters from")
		pipelineCtx = context.Background()
		cfg         *config
		err         error
	)

	flag.Parse()
	if cfg, err = getConfig(cliCfgFile); err != nil {
		fmt.Fprintf(os.Stderr, "unable to read configuration: %s\n", err)
		os.Exit(1)
	}

	log := initLogger(cfg.Misc.LogLevel, cfg.Misc.LogFormat)
	slog.SetDefault(log)

	handleErr(log, "unable to create audio directory", os.MkdirAll(cfg.audioDir(), 0o755))

	db, err := openDatabase(cfg.databasePath())
	handleErr(log, "unable to open database", err)
	defer db.close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := newMetrics(registry)

	events := newHub(log, "events", observerDepth, m)

	var (
		spectrumHub *hub
		tap         *spectrumTap
	)
	if cfg.Misc.Spectrum {
		spectrumHub = newHub(log, "spectrum", 2, m)
		tap = newSpectrumTap(log, cfg.Misc.SpectrumBins, spectrumHub)
	}

	fin := newFinalizer(log, newWhisperClient(cfg), db, events, m)
	var ho handoff
	if cfg.Misc.SynchronousFinalize {
		ho = inlineHandoff{f: fin}
	} else {
		ho = newQueuedHandoff(log, fin, m, cfg.Misc.HandoffWorkers, cfg.Misc.HandoffQueue)
	}

	dongleStage, err := newDongleStage(log, cfg)
	handleErr(log, "unable to initialise dongle stage", err)

	demodStage, err := newDemodStage(cfg)
	handleErr(log, "unable to initialise demod stage", err)

	outputStage := newOutputStage(log, cfg, demodStage, openWavSink, ho, m)

	controller, err := newSDRController(
		pipelineCtx, log, cfg, dongleStage, demodStage, outputStage, m,
	)
	handleErr(log, "unable to initialise SDR controller", err)

	if tap != nil {
		controller.spectrum = tap
		go tap.run(controller.ctx)
	}

	web := newWebServer(log, cfg, db, events, spectrumHub, registry)
	web.start()

	handleSignal(log, controller.stop)
	log.Info("handing control over to sdr controller until SIGINT")
	runErr := controller.run()

	ho.close()
	events.close()
	if spectrumHub != nil {
		spectrumHub.close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := web.stop(shutdownCtx); err != nil {
		log.Warn("web server shutdown", "err", err)
	}

	if runErr != nil {
		db.close()
		handleErr(log, "SDR controller finished with error", runErr)
	}
}

func initLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func handleErr(log *slog.Logger, msg string, err error) {
	if err != nil {
		log.Error(msg, "err", err)
		os.Exit(1)
	}
}

func handleSignal(log *slog.Logger, handleFn func()) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-signalChan
		log.Info("received signal, calling handler", "signal", sig)
		handleFn()
	}()
}
