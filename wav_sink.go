package main

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavFormatPCM = 1

var (
	errUnsupportedSpec = errors.New("unsupported sink spec")
	errSinkFinalized   = errors.New("sink already finalized")
)

// sinkSpec describes the sample format a sink is created with.
type sinkSpec struct {
	channels   int
	sampleRate int
	bitDepth   int
	float      bool
}

var waveSpec = sinkSpec{channels: 1, sampleRate: waveSampleRate, bitDepth: 8}

type audioSink interface {
	// write quantizes samples in [-1, 1] to the sink's format and appends them.
	write(samples []float32) error
	// finalize flushes and closes the sink. Calling it again is a no-op.
	finalize() error
}

type sinkOpener func(path string, spec sinkSpec) (audioSink, error)

// quantize scales a sample to a signed integer of the given bit depth,
// rounding and clamping to the representable range.
func quantize(sample float32, bitDepth int) int {
	limit := float64(int(1)<<(bitDepth-1) - 1)
	v := math.Round(float64(sample) * limit)
	if v > limit {
		v = limit
	} else if v < -limit-1 {
		v = -limit - 1
	}
	return int(v)
}

// pcmBuffer quantizes samples into an IntBuffer ready for the wav encoder.
// 8-bit PCM WAV is unsigned, so signed values are offset by 128.
func pcmBuffer(samples []float32, spec sinkSpec) *audio.IntBuffer {
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = quantize(s, spec.bitDepth)
		if spec.bitDepth == 8 {
			data[i] += 128
		}
	}
	return &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: spec.channels, SampleRate: spec.sampleRate},
		Data:           data,
		SourceBitDepth: spec.bitDepth,
	}
}

func encodeWAV(w io.WriteSeeker, samples []float32, spec sinkSpec) error {
	enc := wav.NewEncoder(w, spec.sampleRate, spec.bitDepth, spec.channels, wavFormatPCM)
	if err := enc.Write(pcmBuffer(samples, spec)); err != nil {
		return err
	}
	return enc.Close()
}

func checkSpec(spec sinkSpec) error {
	if spec.float || spec.channels != 1 || (spec.bitDepth != 8 && spec.bitDepth != 16) {
		return fmt.Errorf("%w: %+v", errUnsupportedSpec, spec)
	}
	return nil
}

type wavSink struct {
	f       *os.File
	enc     *wav.Encoder
	spec    sinkSpec
	written bool
	done    bool
}

// openWavSink creates a new WAV file at path. An existing file is never
// overwritten.
func openWavSink(path string, spec sinkSpec) (audioSink, error) {
	if err := checkSpec(spec); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}

	return &wavSink{
		f:    f,
		enc:  wav.NewEncoder(f, spec.sampleRate, spec.bitDepth, spec.channels, wavFormatPCM),
		spec: spec,
	}, nil
}

func (w *wavSink) write(samples []float32) error {
	if w.done {
		return errSinkFinalized
	}
	w.written = true
	return w.enc.Write(pcmBuffer(samples, w.spec))
}

func (w *wavSink) finalize() error {
	if w.done {
		return nil
	}
	w.done = true

	// the encoder only emits the header on its first write
	if !w.written {
		if err := w.enc.Write(pcmBuffer(nil, w.spec)); err != nil {
			w.f.Close()
			return err
		}
	}

	if err := w.enc.Close(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// memFile is an in-memory io.WriteSeeker for encoding WAV bodies that are
// never written to disk.
type memFile struct {
	buf []byte
	pos int
}

func (m *memFile) Write(p []byte) (int, error) {
	if end := m.pos + len(p); end > len(m.buf) {
		m.buf = append(m.buf, make([]byte, end-len(m.buf))...)
	}
	n := copy(m.buf[m.pos:], p)
	m.pos += n
	return n, nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = int64(m.pos) + offset
	case io.SeekEnd:
		pos = int64(len(m.buf)) + offset
	default:
		return 0, errors.New("memFile: invalid whence")
	}
	if pos < 0 {
		return 0, errors.New("memFile: negative position")
	}
	m.pos = int(pos)
	return pos, nil
}

func (m *memFile) Bytes() []byte {
	return m.buf
}
