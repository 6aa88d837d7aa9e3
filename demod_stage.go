package main

import (
	"hz.tools/rf"
)

var (
	channelCutoff = 20 * rf.KHz
	audioCutoff   = 15 * rf.KHz
)

// channelState is everything a channel carries from one wideband buffer to
// the next. It is created once per channel and never reset; resetting it
// produces audible clicks at buffer boundaries.
type channelState struct {
	mixer       offsetMixer
	channelLP   lowPass
	disc        discriminator
	audioLP     lowPass
	toAudio     downSampler
	toTranscode downSampler
}

func newChannelState(offset rf.Hz, captureRate, audioRate, transcribeRate uint32) channelState {
	return channelState{
		mixer:       newOffsetMixer(offset, captureRate),
		channelLP:   newLowPass(captureRate, channelCutoff),
		audioLP:     newLowPass(captureRate, audioCutoff),
		toAudio:     newDownSampler(captureRate, audioRate),
		toTranscode: newDownSampler(audioRate, transcribeRate),
	}
}

// demodResult is the output of one channel for one wideband buffer. Audio
// may be empty when decimation emits nothing for a short buffer.
type demodResult struct {
	audio []float32
	rms   float32
}

type demodState struct {
	captureRate    uint32
	audioRate      uint32
	transcribeRate uint32
	channels       []channelConfig
	states         []channelState
}

func newDemodStage(cfg *config) (*demodState, error) {
	rate, err := cfg.sampleRate()
	if err != nil {
		return nil, err
	}

	d := &demodState{
		captureRate:    rate,
		audioRate:      waveSampleRate,
		transcribeRate: transcribeSampleRate,
		channels:       cfg.Channels,
		states:         make([]channelState, len(cfg.Channels)),
	}

	for i, ch := range cfg.Channels {
		d.states[i] = newChannelState(cfg.offset(ch), rate, d.audioRate, d.transcribeRate)
	}

	return d, nil
}

// demodulate runs channel idx over one wideband buffer. iq is not modified.
func (d *demodState) demodulate(idx int, iq []complex64) demodResult {
	st := &d.states[idx]

	baseband := make([]complex64, len(iq))
	copy(baseband, iq)

	st.mixer.mix(baseband)
	st.channelLP.filterComplex(baseband)
	power := rms(baseband)

	audio := st.disc.demodulate(baseband, d.channels[idx].Gain)
	st.audioLP.filterReal(audio)

	return demodResult{
		audio: st.toAudio.downSample(audio),
		rms:   power,
	}
}

// transcodeRate takes audio at the wave rate down to the transcription rate
// using the channel's own carried residue.
func (d *demodState) transcodeRate(idx int, audio []float32) []float32 {
	return d.states[idx].toTranscode.downSample(audio)
}
