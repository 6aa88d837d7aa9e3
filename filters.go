package main

import (
	"errors"
	"math"
	"math/cmplx"

	"hz.tools/rf"
)

var (
	errEmptyBuffer = errors.New("filter given an empty buffer")
)

// lowPass is a single-pole IIR filter. The zero value is unusable, build one
// with newLowPass so that alpha is derived from the rates.
type lowPass struct {
	alpha  float32
	last   complex64
	primed bool
}

func newLowPass(sampleRate uint32, cutoff rf.Hz) lowPass {
	rc := 1.0 / (2 * math.Pi * float64(cutoff))
	dt := 1.0 / float64(sampleRate)
	return lowPass{alpha: float32(dt / (rc + dt))}
}

// prime seeds the filter with the first sample it has ever seen. It is only
// honoured once per filter instance.
func (lp *lowPass) prime(samples []complex64) {
	if len(samples) == 0 {
		panic(errEmptyBuffer)
	}
	if lp.primed {
		return
	}
	lp.last = samples[0]
	lp.primed = true
}

func (lp *lowPass) filter(in complex64) complex64 {
	lp.last += complex(lp.alpha, 0) * (in - lp.last)
	return lp.last
}

// filterComplex runs the filter in place over buf.
func (lp *lowPass) filterComplex(buf []complex64) {
	lp.prime(buf)
	for i, v := range buf {
		buf[i] = lp.filter(v)
	}
}

// filterReal runs the filter in place over buf, treating each value as a
// complex sample with no imaginary part.
func (lp *lowPass) filterReal(buf []float32) {
	if len(buf) == 0 {
		panic(errEmptyBuffer)
	}
	if !lp.primed {
		lp.last = complex(buf[0], 0)
		lp.primed = true
	}
	for i, v := range buf {
		buf[i] = real(lp.filter(complex(v, 0)))
	}
}

// offsetMixer translates a signal sitting at offset Hz from the capture
// center down to 0 Hz. The offset is rounded to whole Hz.
type offsetMixer struct {
	offset int64
	rate   int64
	t      uint64
}

func newOffsetMixer(offset rf.Hz, sampleRate uint32) offsetMixer {
	return offsetMixer{
		offset: int64(math.Round(float64(offset))),
		rate:   int64(sampleRate),
	}
}

// mix multiplies every sample of buf in place by e^(-j*2*pi*offset*t/rate),
// advancing t by one per sample.
func (m *offsetMixer) mix(buf []complex64) {
	for i, v := range buf {
		// offset*t/rate only matters modulo 1; working on t mod rate keeps the
		// product small enough to stay exact.
		cycles := (m.offset * int64(m.t%uint64(m.rate))) % m.rate
		angle := -2 * math.Pi * float64(cycles) / float64(m.rate)
		buf[i] = v * complex64(cmplx.Rect(1, angle))
		m.t++
	}
}

// downSampler decimates by a possibly fractional step, carrying its error
// term from one call to the next.
type downSampler struct {
	step  float64
	error float64
}

func newDownSampler(inRate, outRate uint32) downSampler {
	return downSampler{step: float64(inRate) / float64(outRate)}
}

func (d *downSampler) keep() bool {
	d.error++
	if d.error >= d.step {
		d.error -= d.step
		return true
	}
	return false
}

func (d *downSampler) downSample(in []float32) []float32 {
	out := make([]float32, 0, int(float64(len(in))/d.step)+1)
	for _, v := range in {
		if d.keep() {
			out = append(out, v)
		}
	}
	return out
}

// discriminator is a polar FM discriminator carrying the last filtered sample
// across buffers so that the boundary pair is not lost.
type discriminator struct {
	lookback complex64
	primed   bool
}

// wrapPhase folds a raw phase difference into (-pi, pi].
func wrapPhase(angle float64) float64 {
	if angle > math.Pi {
		angle -= 2 * math.Pi
	} else if angle < -math.Pi {
		angle += 2 * math.Pi
	}
	return angle
}

func (d *discriminator) demodulate(in []complex64, gain float32) []float32 {
	out := make([]float32, len(in))
	if len(in) == 0 {
		return out
	}
	if !d.primed {
		d.lookback = in[0]
		d.primed = true
	}
	prev := cmplx.Phase(complex128(d.lookback))
	for i, v := range in {
		cur := cmplx.Phase(complex128(v))
		out[i] = float32(wrapPhase(cur-prev)) * gain
		prev = cur
	}
	d.lookback = in[len(in)-1]
	return out
}

// rms returns sqrt(mean(re^2 + im^2)) over buf.
func rms(buf []complex64) float32 {
	if len(buf) == 0 {
		panic(errEmptyBuffer)
	}
	var sum float64
	for _, v := range buf {
		re, im := float64(real(v)), float64(imag(v))
		sum += re*re + im*im
	}
	return float32(math.Sqrt(sum / float64(len(buf))))
}
