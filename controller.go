package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

type controllerState struct {
	log         *slog.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	dongleStage *dongleState
	demodStage  *demodState
	outputStage *outputState
	spectrum    *spectrumTap
	metrics     *metrics
	channels    []channelConfig
	deadline    time.Duration
	lastOverrun time.Time
}

func newSDRController(
	ctx context.Context, log *slog.Logger, cfg *config,
	dongle *dongleState,
	demod *demodState,
	output *outputState,
	m *metrics,
) (*controllerState, error) {
	rate, err := cfg.sampleRate()
	if err != nil {
		return nil, err
	}

	stageCtx, cancel := context.WithCancel(ctx)
	return &controllerState{
		log: log.With("stage", "controller"), ctx: stageCtx, cancel: cancel,
		dongleStage: dongle, demodStage: demod, outputStage: output,
		metrics: m, channels: cfg.Channels,
		deadline: bufferDeadline(cfg.Radio.BufferSize, rate),
	}, nil
}

// bufferDeadline is how long one iteration may take before the device's
// ring buffer starts to overflow.
func bufferDeadline(bufLen int, rate uint32) time.Duration {
	return time.Duration(float64(time.Second) * 0.5 * float64(bufLen) / float64(rate))
}

// run owns the device until the context is cancelled or the device faults.
// A device error is returned as-is and must be treated as fatal. The end of
// a replayed capture is a clean exit.
func (c *controllerState) run() error {
	if err := c.dongleStage.startDevice(); err != nil {
		return fmt.Errorf("unable to open device: %w", err)
	}
	defer c.dongleStage.stop()

	if err := c.dongleStage.configure(); err != nil {
		return fmt.Errorf("failed to configure rtl device: %w", err)
	}

	c.log.Info("capture started",
		"channels", len(c.channels),
		"buffer_ms", float64(c.deadline)/float64(time.Millisecond))

	defer c.outputStage.finalizeAll()

	for {
		select {
		case <-c.ctx.Done():
			c.log.Info("returning from controller")
			return nil
		default:
		}

		iq, err := c.dongleStage.read()
		if errors.Is(err, io.EOF) {
			c.log.Info("capture stream ended")
			return nil
		}
		if err != nil {
			return err
		}
		c.process(iq)
	}
}

// process channelizes one wideband buffer through every channel in index
// order.
func (c *controllerState) process(iq []complex64) {
	start := time.Now()

	if c.spectrum != nil {
		c.spectrum.offer(iq)
	}

	for idx, ch := range c.channels {
		res := c.demodStage.demodulate(idx, iq)
		c.metrics.channelRMS.WithLabelValues(ch.Name).Set(float64(res.rms))
		c.outputStage.update(idx, res)
	}

	elapsed := time.Since(start)
	c.metrics.buffersProcessed.Inc()
	c.metrics.iterationSeconds.Observe(elapsed.Seconds())

	if elapsed > c.deadline {
		c.metrics.deadlineOverruns.Inc()
		if time.Since(c.lastOverrun) > time.Second {
			c.lastOverrun = time.Now()
			c.log.Warn("iteration overran buffer deadline", "took", elapsed, "deadline", c.deadline)
		}
	}
}

func (c *controllerState) stop() {
	c.cancel()
}
