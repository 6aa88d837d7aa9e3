package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"hz.tools/rf"
)

const sampleConfig = `
[server]
port = 9000
read_timeout = 10s

[radio]
center_freq = 100M
sample_rate = 250k
gain = 20
ppm_error = 3
buffer_size = 32768

[misc]
transcribe_model = base.en
handoff_workers = 2
spectrum = true
data_dir = /var/lib/sdrscribe

[channel]
name = tower
freq = 100.01M
squelch = 0.05
gain = 1.5

[channel]
name = ground
freq = 99.95M
squelch = 0.1
`

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 20, cfg.Radio.Gain)
	assert.Equal(t, 3, cfg.Radio.PPMError)
	assert.Equal(t, 32768, cfg.Radio.BufferSize)
	assert.Equal(t, "base.en", cfg.Misc.TranscribeModel)
	assert.Equal(t, 2, cfg.Misc.HandoffWorkers)
	assert.Equal(t, 64, cfg.Misc.HandoffQueue)
	assert.True(t, cfg.Misc.Spectrum)

	require.Len(t, cfg.Channels, 2)
	assert.Equal(t, channelConfig{Name: "tower", Freq: 100010000, Squelch: 0.05, Gain: 1.5}, cfg.Channels[0])
	assert.Equal(t, "ground", cfg.Channels[1].Name)
	assert.Equal(t, rf.Hz(99950000), cfg.Channels[1].Freq)
	assert.Equal(t, float32(1), cfg.Channels[1].Gain)

	assert.Equal(t, rf.Hz(10000), cfg.offset(cfg.Channels[0]))
	assert.Equal(t, rf.Hz(-50000), cfg.offset(cfg.Channels[1]))

	assert.Equal(t, "/var/lib/sdrscribe/audio", cfg.audioDir())
	assert.Equal(t, "/var/lib/sdrscribe/data.db", cfg.databasePath())
	assert.Equal(t, "0.0.0.0:9000", cfg.listenAddr())
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf.ini")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))

	cfg, err := getConfig(&path)
	require.NoError(t, err)
	assert.Len(t, cfg.Channels, 2)
}

func TestConfigFileLocation(t *testing.T) {
	t.Setenv(CONFIG_FILE_ENV_VAR, "")
	assert.Equal(t, CONFIG_FILE_DEFAULT_LOCATION, getConfigFileLocation(""))

	t.Setenv(CONFIG_FILE_ENV_VAR, "/tmp/env.ini")
	assert.Equal(t, "/tmp/env.ini", getConfigFileLocation(""))
	assert.Equal(t, "/tmp/flag.ini", getConfigFileLocation("/tmp/flag.ini"))
}

func TestLoadConfigErrors(t *testing.T) {
	radio := "[radio]\ncenter_freq = 100M\nsample_rate = 250k\n"
	channel := "[channel]\nname = a\nfreq = 100M\nsquelch = 0.1\n"

	tests := []struct {
		name    string
		source  string
		wantErr error
	}{
		{"no channels", radio, errNoChannels},
		{"odd buffer", radio + "buffer_size = 1025\n" + channel, errInvalidBufferSize},
		{"tiny buffer", radio + "buffer_size = 16\n" + channel, errInvalidBufferSize},
		{"bad channel freq", radio + "[channel]\nname = a\nfreq = abc\n", errInvalidConfigFreq},
		{"bad center", "[radio]\ncenter_freq = nope\n" + channel, errInvalidConfigFreq},
		{"no squelch", radio + "[channel]\nname = a\nfreq = 100M\ngain = 2\n", errMissingSquelch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig([]byte(tt.source))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoadConfigRejectsOutOfBandChannel(t *testing.T) {
	src := "[radio]\ncenter_freq = 100M\nsample_rate = 250k\n[channel]\nname = far\nfreq = 101M\nsquelch = 0.1\n"
	_, err := loadConfig([]byte(src))
	assert.ErrorContains(t, err, "outside the captured band")
}

func TestLoadConfigRejectsBadSquelch(t *testing.T) {
	src := "[radio]\ncenter_freq = 100M\n[channel]\nname = a\nfreq = 100M\nsquelch = 1.5\n"
	_, err := loadConfig([]byte(src))
	assert.ErrorContains(t, err, "squelch")
}

func TestLoadConfigRejectsNonPositiveGain(t *testing.T) {
	src := "[radio]\ncenter_freq = 100M\n[channel]\nname = a\nfreq = 100M\nsquelch = 0.1\ngain = 0\n"
	_, err := loadConfig([]byte(src))
	assert.ErrorContains(t, err, "gain must be positive")
}

func TestMissingConfigFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "absent.ini"))
	assert.ErrorIs(t, err, errNoConfigFound)
}

func TestFreqHz(t *testing.T) {
	tests := map[string]uint32{
		"250k":     250000,
		"144.39M":  144390000,
		"1090000":  1090000,
		"2.4m":     2400000,
		" 96.5M ":  96500000,
		"12500Hz":  12500,
		"0.0125M":  12500,
	}
	for in, want := range tests {
		got, err := freqHz(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := freqHz("fast")
	assert.Error(t, err)
}
