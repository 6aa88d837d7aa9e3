package main

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// recorderPhase tags a channel slot as idle or recording.
type recorderPhase int

const (
	phaseIdle recorderPhase = iota
	phaseRecording
)

func (p recorderPhase) String() string {
	if p == phaseRecording {
		return "recording"
	}
	return "idle"
}

// recording is one open session. It is owned by its channel slot until it is
// handed off, after which the capture loop never touches it again.
type recording struct {
	id      uuid.UUID
	channel int
	path    string
	started time.Time
	sink    audioSink
	buffer  []float32
}

type channelRecorder struct {
	phase   recorderPhase
	session recording
}

type outputState struct {
	log       *slog.Logger
	dir       string
	channels  []channelConfig
	recorders []channelRecorder
	demod     *demodState
	open      sinkOpener
	handoff   handoff
	metrics   *metrics
	newID     func() uuid.UUID
	now       func() time.Time
}

func newOutputStage(log *slog.Logger, cfg *config, demod *demodState, open sinkOpener, h handoff, m *metrics) *outputState {
	return &outputState{
		log:       log.With("stage", "output"),
		dir:       cfg.audioDir(),
		channels:  cfg.Channels,
		recorders: make([]channelRecorder, len(cfg.Channels)),
		demod:     demod,
		open:      open,
		handoff:   h,
		metrics:   m,
		newID:     uuid.New,
		now:       time.Now,
	}
}

// update applies one buffer's squelch decision to channel idx. There is no
// hysteresis: a single buffer below threshold ends the session.
func (o *outputState) update(idx int, res demodResult) {
	ch := o.channels[idx]
	rec := &o.recorders[idx]
	open := res.rms >= ch.Squelch

	switch {
	case rec.phase == phaseIdle && open:
		if !o.start(idx) {
			return
		}
		o.write(idx, res.audio)
	case rec.phase == phaseRecording && open:
		o.write(idx, res.audio)
	case rec.phase == phaseRecording && !open:
		o.finalize(idx)
	}

	o.metrics.recording.WithLabelValues(ch.Name).Set(float64(o.recorders[idx].phase))
}

func (o *outputState) start(idx int) bool {
	ch := o.channels[idx]
	id := o.newID()
	path := filepath.Join(o.dir, id.String()+".wav")

	sink, err := o.open(path, waveSpec)
	if err != nil {
		o.metrics.sinkErrors.Inc()
		o.log.Error("unable to open audio sink", "channel", ch.Name, "session", id, "err", err)
		return false
	}

	o.recorders[idx] = channelRecorder{
		phase: phaseRecording,
		session: recording{
			id: id, channel: idx, path: path,
			started: o.now(), sink: sink,
		},
	}
	o.metrics.recordingsStarted.Inc()
	o.log.Info("receiving", "channel", ch.Name, "session", id)
	o.handoff.submit(handoffJob{kind: jobReceiving, channel: idx, name: ch.Name, session: o.recorders[idx].session})
	return true
}

func (o *outputState) write(idx int, audio []float32) {
	rec := &o.recorders[idx]
	if len(audio) == 0 {
		return
	}

	if err := rec.session.sink.write(audio); err != nil {
		o.metrics.sinkErrors.Inc()
		o.log.Error("audio sink write failed, abandoning session",
			"channel", o.channels[idx].Name, "session", rec.session.id, "err", err)
		o.handoff.submit(handoffJob{kind: jobAbandon, channel: idx, session: rec.session})
		o.recorders[idx] = channelRecorder{}
		return
	}

	rec.session.buffer = append(rec.session.buffer, o.demod.transcodeRate(idx, audio)...)
}

// finalize hands the channel's open session off and returns the slot to idle.
// It is a no-op on an idle channel.
func (o *outputState) finalize(idx int) {
	rec := &o.recorders[idx]
	if rec.phase != phaseRecording {
		return
	}

	session := rec.session
	o.recorders[idx] = channelRecorder{}
	o.log.Info("processing", "channel", o.channels[idx].Name, "session", session.id,
		"duration", o.now().Sub(session.started))
	o.handoff.submit(handoffJob{kind: jobFinalize, channel: idx, session: session})
}

// finalizeAll closes out every open session, used on shutdown.
func (o *outputState) finalizeAll() {
	for idx := range o.recorders {
		o.finalize(idx)
	}
}

func (o *outputState) phase(idx int) recorderPhase {
	return o.recorders[idx].phase
}
