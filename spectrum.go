package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// spectrumTap is an optional debug subscriber to the raw wideband stream.
// Delivery is best effort: frames offered while it is busy are dropped.
type spectrumTap struct {
	log    *slog.Logger
	bins   int
	frames chan []complex64
	out    *hub

	fft  *fourier.CmplxFFT
	work []complex128
}

type spectrumFrame struct {
	Bins []float32 `json:"bins"`
}

func newSpectrumTap(log *slog.Logger, bins int, out *hub) *spectrumTap {
	return &spectrumTap{
		log:    log.With("stage", "spectrum"),
		bins:   bins,
		frames: make(chan []complex64, 1),
		out:    out,
	}
}

// offer never blocks the capture loop.
func (s *spectrumTap) offer(iq []complex64) {
	frame := make([]complex64, len(iq))
	copy(frame, iq)

	select {
	case s.frames <- frame:
	default:
	}
}

func (s *spectrumTap) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-s.frames:
			payload, err := json.Marshal(spectrumFrame{Bins: s.power(frame)})
			if err != nil {
				s.log.Error("encoding spectrum frame", "err", err)
				continue
			}
			s.out.broadcast(payload)
		}
	}
}

// power returns the spectrum of iq in dB, DC centered, averaged down to at
// most s.bins columns.
func (s *spectrumTap) power(iq []complex64) []float32 {
	n := len(iq)
	if n == 0 {
		return nil
	}
	if s.fft == nil || s.fft.Len() != n {
		s.fft = fourier.NewCmplxFFT(n)
		s.work = make([]complex128, n)
	}

	for i, v := range iq {
		s.work[i] = complex128(v)
	}
	coeff := s.fft.Coefficients(nil, s.work)

	bins := s.bins
	if bins <= 0 || bins > n {
		bins = n
	}
	out := make([]float32, bins)
	per := float64(n) / float64(bins)
	for b := range out {
		start, end := int(float64(b)*per), int(float64(b+1)*per)
		if end <= start {
			end = start + 1
		}
		var sum float64
		for i := start; i < end; i++ {
			// shift so negative frequencies come first
			c := coeff[(i+n/2)%n] / complex(float64(n), 0)
			sum += real(c)*real(c) + imag(c)*imag(c)
		}
		mean := sum / float64(end-start)
		out[b] = float32(10 * math.Log10(mean+1e-20))
	}
	return out
}
