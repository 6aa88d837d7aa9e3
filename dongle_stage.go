package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	rtl "github.com/jpoirier/gortlsdr"
)

var (
	errNoDevicesAvailable = errors.New("no rtlsdr devices connected")
	errShortRead          = errors.New("short read from capture device")
	errNoTunerGains       = errors.New("tuner reports no supported gains")
)

// captureDevice is the subset of the rtlsdr context the dongle stage drives.
// *rtl.Context satisfies it directly.
type captureDevice interface {
	SetCenterFreq(freq int) error
	SetSampleRate(rate int) error
	SetTunerGainMode(manual bool) error
	SetAgcMode(on bool) error
	SetTunerGain(gain int) error
	GetTunerGains() ([]int, error)
	SetFreqCorrection(ppm int) error
	ResetBuffer() error
	ReadSync(buf []byte, len int) (int, error)
	Close() error
}

type dongleState struct {
	log        *slog.Logger
	open       func() (captureDevice, error)
	dev        captureDevice
	devIndex   int
	devSerial  string
	replayFile string
	freq       uint32
	rate       uint32
	gain       int
	ppmError   int
	raw        []byte
}

func newDongleStage(log *slog.Logger, cfg *config) (*dongleState, error) {
	center, err := cfg.centerFreq()
	if err != nil {
		return nil, err
	}
	rate, err := cfg.sampleRate()
	if err != nil {
		return nil, err
	}

	d := &dongleState{
		log:        log.With("stage", "dongle"),
		devIndex:   cfg.Radio.DeviceIndex,
		devSerial:  cfg.Radio.DeviceSerial,
		replayFile: cfg.Radio.ReplayFile,
		freq:       uint32(center),
		rate:       rate,
		gain:       cfg.Radio.Gain,
		ppmError:   cfg.Radio.PPMError,
		raw:        make([]byte, cfg.Radio.BufferSize),
	}
	d.open = d.openDevice
	return d, nil
}

func (d *dongleState) startDevice() error {
	dev, err := d.open()
	if err != nil {
		return err
	}
	d.dev = dev
	return nil
}

func (d *dongleState) openDevice() (captureDevice, error) {
	if d.replayFile != "" {
		d.log.Info("replaying capture", "file", d.replayFile)
		return openReplay(d.replayFile)
	}
	return openDongle(d.log, d.devIndex, d.devSerial)
}

// configure tunes the device. Any failure leaves the device in an unknown
// state and must be treated as fatal by the caller.
func (d *dongleState) configure() error {
	if err := d.dev.SetCenterFreq(int(d.freq)); err != nil {
		return fmt.Errorf("setting center frequency %d: %w", d.freq, err)
	}

	if err := d.dev.SetSampleRate(int(d.rate)); err != nil {
		return fmt.Errorf("setting sample rate %d: %w", d.rate, err)
	}

	if d.gain == autoGain {
		d.log.Info("setting auto gain")
		if err := d.dev.SetTunerGainMode(false); err != nil {
			return fmt.Errorf("setting tuner auto-gain: %w", err)
		}
	} else {
		if err := d.dev.SetTunerGainMode(true); err != nil {
			return fmt.Errorf("setting tuner manual gain mode: %w", err)
		}

		gain, err := nearestGain(d.dev, d.gain*10)
		if err != nil {
			return err
		}

		if err := d.dev.SetTunerGain(gain); err != nil {
			return fmt.Errorf("setting tuner manual gain to %d: %w", gain, err)
		}
		d.log.Info("set tuner gain", "tenths_db", gain)
	}

	if err := d.dev.SetAgcMode(false); err != nil {
		return fmt.Errorf("disabling agc: %w", err)
	}

	if d.ppmError != 0 {
		if err := d.dev.SetFreqCorrection(d.ppmError); err != nil {
			return fmt.Errorf("setting frequency correction to %d ppm: %w", d.ppmError, err)
		}
	}

	d.log.Info("tuned", "center_hz", d.freq, "rate", d.rate, "ppm", d.ppmError)
	return d.dev.ResetBuffer()
}

// read blocks until one full buffer has been read and returns it converted to
// centered complex samples.
func (d *dongleState) read() ([]complex64, error) {
	n, err := d.dev.ReadSync(d.raw, len(d.raw))
	if err != nil {
		return nil, fmt.Errorf("reading from device: %w", err)
	}
	if n != len(d.raw) {
		return nil, fmt.Errorf("%w: got %d of %d bytes", errShortRead, n, len(d.raw))
	}
	return iqFromBytes(d.raw), nil
}

func (d *dongleState) stop() {
	if d.dev == nil {
		return
	}
	d.log.Info("closing connection to device")
	if err := d.dev.Close(); err != nil {
		d.log.Error("error closing device", "err", err)
	}
}

// iqFromBytes maps unsigned interleaved I/Q byte pairs onto [-1, 1]. A
// trailing odd byte is dropped.
func iqFromBytes(buf []byte) []complex64 {
	iq := make([]complex64, len(buf)/2)
	for i := range iq {
		iq[i] = complex(
			float32(buf[2*i])/127.5-1.0,
			float32(buf[2*i+1])/127.5-1.0,
		)
	}
	return iq
}

func nearestGain(dev captureDevice, target int) (int, error) {
	gains, err := dev.GetTunerGains()
	if err != nil {
		return 0, fmt.Errorf("listing tuner gains: %w", err)
	}
	if len(gains) == 0 {
		return 0, errNoTunerGains
	}

	nearest := gains[0]
	for _, g := range gains[1:] {
		if abs(g-target) < abs(nearest-target) {
			nearest = g
		}
	}
	return nearest, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func openDongle(log *slog.Logger, devIdx int, dongleSerial string) (captureDevice, error) {
	count := rtl.GetDeviceCount()
	if count == 0 {
		return nil, errNoDevicesAvailable
	}
	log.Info("found devices", "count", count)

	if dongleSerial != "" {
		var err error
		if devIdx, err = rtl.GetIndexBySerial(dongleSerial); err != nil {
			return nil, err
		}
	}

	dev, err := rtl.Open(devIdx)
	if err != nil {
		return nil, err
	}
	return dev, nil
}

// replayDevice plays back a raw rtl_sdr capture file through the same
// contract as a dongle. Tuning calls are accepted and ignored.
type replayDevice struct {
	f *os.File
}

func openReplay(path string) (*replayDevice, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &replayDevice{f: f}, nil
}

func (r *replayDevice) SetCenterFreq(int) error       { return nil }
func (r *replayDevice) SetSampleRate(int) error       { return nil }
func (r *replayDevice) SetTunerGainMode(bool) error   { return nil }
func (r *replayDevice) SetAgcMode(bool) error         { return nil }
func (r *replayDevice) SetTunerGain(int) error        { return nil }
func (r *replayDevice) GetTunerGains() ([]int, error) { return []int{0}, nil }
func (r *replayDevice) SetFreqCorrection(int) error   { return nil }
func (r *replayDevice) ResetBuffer() error            { return nil }
func (r *replayDevice) Close() error                  { return r.f.Close() }

func (r *replayDevice) ReadSync(buf []byte, n int) (int, error) {
	read, err := io.ReadFull(r.f, buf[:n])
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	return read, err
}
