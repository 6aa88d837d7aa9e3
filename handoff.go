package main

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

type jobKind int

const (
	jobReceiving jobKind = iota
	jobFinalize
	jobAbandon
)

type handoffJob struct {
	kind    jobKind
	channel int
	name    string
	session recording
}

// handoff carries session lifecycle work out of the capture loop. Jobs for
// one channel must be run in submission order.
type handoff interface {
	submit(job handoffJob)
	close()
}

type transcriber interface {
	transcribe(samples []float32) (string, error)
}

type messageStore interface {
	insertMessage(text *string, id uuid.UUID) error
}

type notifier interface {
	publish(msg uiMessage)
}

// finalizer does the slow end of a session: closing the sink, transcription,
// persistence and notification.
type finalizer struct {
	log         *slog.Logger
	transcriber transcriber
	store       messageStore
	notify      notifier
	metrics     *metrics
	now         func() time.Time
}

func newFinalizer(log *slog.Logger, t transcriber, s messageStore, n notifier, m *metrics) *finalizer {
	return &finalizer{
		log:         log.With("stage", "handoff"),
		transcriber: t,
		store:       s,
		notify:      n,
		metrics:     m,
		now:         time.Now,
	}
}

func (f *finalizer) run(job handoffJob) {
	switch job.kind {
	case jobReceiving:
		f.notify.publish(receivingMessage{ChannelIndex: job.channel, ChannelName: job.name})
	case jobFinalize:
		f.complete(job)
	case jobAbandon:
		f.abandon(job)
	}
}

func (f *finalizer) complete(job handoffJob) {
	s := job.session
	log := f.log.With("channel", job.channel, "session", s.id)

	f.notify.publish(processingMessage{ChannelIndex: job.channel})

	if err := s.sink.finalize(); err != nil {
		f.metrics.sinkErrors.Inc()
		log.Error("finalizing audio sink", "err", err)
	}

	var text *string
	if len(s.buffer) > 0 {
		start := time.Now()
		out, err := f.transcriber.transcribe(s.buffer)
		if err != nil {
			f.metrics.transcriptionFailures.Inc()
			log.Warn("transcription failed, storing without text", "err", err)
		} else {
			text = &out
			log.Info("transcribed", "text", out, "took", time.Since(start))
		}
	}

	if err := f.store.insertMessage(text, s.id); err != nil {
		f.metrics.persistenceFailures.Inc()
		log.Error("persisting message", "err", err)
	}

	f.metrics.recordingsCompleted.Inc()
	f.notify.publish(completeMessage{Timestamp: f.now().UTC(), SessionID: s.id, Text: text})
}

// abandon discards a session whose sink failed. Processing is still sent so
// observers that saw Receiving see the channel go quiet.
func (f *finalizer) abandon(job handoffJob) {
	s := job.session
	f.notify.publish(processingMessage{ChannelIndex: job.channel})
	if err := s.sink.finalize(); err != nil {
		f.log.Warn("closing abandoned sink", "session", s.id, "err", err)
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		f.log.Warn("removing abandoned recording", "session", s.id, "err", err)
	}
}

// inlineHandoff runs every job on the caller's goroutine.
type inlineHandoff struct {
	f *finalizer
}

func (h inlineHandoff) submit(job handoffJob) { h.f.run(job) }
func (h inlineHandoff) close()                {}

// queuedHandoff shards jobs by channel over a fixed set of workers, each
// draining its own bounded FIFO.
type queuedHandoff struct {
	log     *slog.Logger
	f       *finalizer
	metrics *metrics
	queues  []chan handoffJob
	wg      sync.WaitGroup
	once    sync.Once
}

func newQueuedHandoff(log *slog.Logger, f *finalizer, m *metrics, workers, depth int) *queuedHandoff {
	h := &queuedHandoff{
		log:     log.With("stage", "handoff"),
		f:       f,
		metrics: m,
		queues:  make([]chan handoffJob, workers),
	}

	for i := range h.queues {
		h.queues[i] = make(chan handoffJob, depth)
		h.wg.Add(1)
		go h.worker(h.queues[i])
	}
	return h
}

func (h *queuedHandoff) worker(jobs <-chan handoffJob) {
	defer h.wg.Done()
	for job := range jobs {
		h.metrics.handoffDepth.Dec()
		h.f.run(job)
	}
}

// submit enqueues without blocking while the queue has room. A full queue
// applies backpressure to the capture loop rather than losing a recording.
func (h *queuedHandoff) submit(job handoffJob) {
	q := h.queues[job.channel%len(h.queues)]
	h.metrics.handoffDepth.Inc()
	select {
	case q <- job:
	default:
		h.log.Warn("handoff queue full, capture loop will stall", "channel", job.channel)
		q <- job
	}
}

// close drains every queue and waits for the workers to finish.
func (h *queuedHandoff) close() {
	h.once.Do(func() {
		for _, q := range h.queues {
			close(q)
		}
		h.wg.Wait()
	})
}
