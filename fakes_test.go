package main

import (
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"hz.tools/rf"
)

var errFake = errors.New("fake failure")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMetrics() *metrics {
	return newMetrics(prometheus.NewRegistry())
}

// testConfig tunes to 100 MHz at 250 kS/s with the given channels.
func testConfig(channels ...channelConfig) *config {
	cfg := getDefaults()
	cfg.Radio.CenterFreq = "100M"
	cfg.Radio.SampleRate = "250k"
	cfg.Radio.BufferSize = 1024
	cfg.Channels = channels
	return &cfg
}

func testChannel(name string, freq rf.Hz, squelch float32) channelConfig {
	return channelConfig{Name: name, Freq: freq, Squelch: squelch, Gain: 1}
}

type fakeSink struct {
	mu        sync.Mutex
	writes    [][]float32
	writeErr  error
	finalized int
}

func (s *fakeSink) write(samples []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.writes = append(s.writes, append([]float32(nil), samples...))
	return nil
}

func (s *fakeSink) finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalized++
	return nil
}

func (s *fakeSink) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

// fakeOpener hands out fakeSinks and remembers them in order.
type fakeOpener struct {
	mu       sync.Mutex
	sinks    []*fakeSink
	paths    []string
	openErr  error
	writeErr error
}

func (o *fakeOpener) open(path string, spec sinkSpec) (audioSink, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.openErr != nil {
		return nil, o.openErr
	}
	s := &fakeSink{writeErr: o.writeErr}
	o.sinks = append(o.sinks, s)
	o.paths = append(o.paths, path)
	return s, nil
}

type fakeTranscriber struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
}

func (t *fakeTranscriber) transcribe(samples []float32) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	return t.text, t.err
}

type storedMessage struct {
	text *string
	id   uuid.UUID
}

type fakeStore struct {
	mu      sync.Mutex
	stored  []storedMessage
	failErr error
}

func (s *fakeStore) insertMessage(text *string, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.stored = append(s.stored, storedMessage{text: text, id: id})
	return nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []uiMessage
}

func (n *fakeNotifier) publish(msg uiMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
}

func (n *fakeNotifier) messages() []uiMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]uiMessage(nil), n.msgs...)
}

func (n *fakeNotifier) types() []string {
	var out []string
	for _, m := range n.messages() {
		out = append(out, m.messageType())
	}
	return out
}

// fakeDevice serves a fixed list of buffers and then io.EOF. Every call is
// recorded by name.
type fakeDevice struct {
	buffers [][]byte
	gains   []int
	calls   []string
	closed  bool
}

func (d *fakeDevice) SetCenterFreq(int) error {
	d.calls = append(d.calls, "SetCenterFreq")
	return nil
}

func (d *fakeDevice) SetSampleRate(int) error {
	d.calls = append(d.calls, "SetSampleRate")
	return nil
}

func (d *fakeDevice) SetTunerGainMode(bool) error {
	d.calls = append(d.calls, "SetTunerGainMode")
	return nil
}

func (d *fakeDevice) SetAgcMode(bool) error {
	d.calls = append(d.calls, "SetAgcMode")
	return nil
}

func (d *fakeDevice) SetTunerGain(int) error {
	d.calls = append(d.calls, "SetTunerGain")
	return nil
}

func (d *fakeDevice) GetTunerGains() ([]int, error) {
	d.calls = append(d.calls, "GetTunerGains")
	return d.gains, nil
}

func (d *fakeDevice) SetFreqCorrection(int) error {
	d.calls = append(d.calls, "SetFreqCorrection")
	return nil
}

func (d *fakeDevice) ResetBuffer() error {
	d.calls = append(d.calls, "ResetBuffer")
	return nil
}

func (d *fakeDevice) ReadSync(buf []byte, n int) (int, error) {
	if len(d.buffers) == 0 {
		return 0, io.EOF
	}
	next := d.buffers[0]
	d.buffers = d.buffers[1:]
	return copy(buf[:n], next), nil
}

func (d *fakeDevice) Close() error {
	d.closed = true
	return nil
}

// constantIQ fills n bytes with the same unsigned I/Q pair.
func constantIQ(n int, i, q byte) []byte {
	buf := make([]byte, n)
	for k := 0; k < n; k += 2 {
		buf[k], buf[k+1] = i, q
	}
	return buf
}
