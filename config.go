package main

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"
	"hz.tools/rf"
)

const (
	CONFIG_FILE_ENV_VAR          = "SDRSCRIBE_CONFIG_FILE"
	CONFIG_FILE_DEFAULT_LOCATION = "/etc/sdrscribe/conf.ini"
	CHANNEL_SECTION              = "channel"
	MIN_BUFFER_SIZE              = 512
	MAX_BUFFER_SIZE              = 262144
)

var (
	errNoConfigFound     = errors.New("unable to find valid configuration file")
	errInvalidConfigFreq = errors.New("invalid parameters for frequency")
	errNoChannels        = errors.New("at least one [channel] section is required")
	errInvalidBufferSize = errors.New("buffer_size must be even and within bounds")
	errMissingSquelch    = errors.New("squelch is required")
)

type cfgServer struct {
	Host        string
	Port        int
	Workers     int
	ReadTimeout time.Duration
}

type cfgRadio struct {
	DeviceIndex  int
	DeviceSerial string
	CenterFreq   string
	SampleRate   string
	Gain         int
	PPMError     int `ini:"ppm_error"`
	BufferSize   int
	ReplayFile   string
}

type cfgMisc struct {
	TranscribeModel     string
	TranscribeEndpoint  string
	TranscribeTimeout   time.Duration
	TranscribeLanguage  string
	DataDir             string
	WebDir              string
	Spectrum            bool
	SpectrumBins        int
	HandoffWorkers      int
	HandoffQueue        int
	SynchronousFinalize bool
	LogLevel            string
	LogFormat           string
}

type cfgChannel struct {
	Name    string
	Freq    string
	Squelch float64
	Gain    float64
}

// channelConfig is a parsed [channel] section.
type channelConfig struct {
	Name    string
	Freq    rf.Hz
	Squelch float32
	Gain    float32
}

type config struct {
	Server   cfgServer
	Radio    cfgRadio
	Misc     cfgMisc
	Channels []channelConfig `ini:"-"`
}

func getConfigFileLocation(cliFlag string) string {
	if cliFlag != "" {
		return cliFlag
	}

	if envFile := os.Getenv(CONFIG_FILE_ENV_VAR); envFile != "" {
		return envFile
	}

	return CONFIG_FILE_DEFAULT_LOCATION
}

func getDefaults() config {
	return config{
		Server: cfgServer{
			Host:        "0.0.0.0",
			Port:        8081,
			Workers:     16,
			ReadTimeout: 30 * time.Second,
		},
		Radio: cfgRadio{
			DeviceIndex: 0,
			SampleRate:  "250k",
			Gain:        autoGain,
			BufferSize:  defaultBufLen,
		},
		Misc: cfgMisc{
			TranscribeEndpoint: "http://127.0.0.1:8080/inference",
			TranscribeTimeout:  2 * time.Minute,
			TranscribeLanguage: "en",
			DataDir:            "data",
			WebDir:             "web",
			SpectrumBins:       512,
			HandoffWorkers:     1,
			HandoffQueue:       64,
			LogLevel:           "info",
			LogFormat:          "text",
		},
	}
}

func getConfig(cliFlag *string) (*config, error) {
	return loadConfig(getConfigFileLocation(*cliFlag))
}

func loadConfig(source interface{}) (*config, error) {
	var cfg = getDefaults()

	file, err := ini.LoadSources(ini.LoadOptions{AllowNonUniqueSections: true}, source)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errNoConfigFound
		}

		return nil, err
	}

	file.NameMapper = ini.TitleUnderscore
	if err := file.MapTo(&cfg); err != nil {
		return nil, err
	}

	sections, err := file.SectionsByName(CHANNEL_SECTION)
	if err != nil {
		return nil, errNoChannels
	}

	for _, section := range sections {
		raw := cfgChannel{Gain: 1}
		if err := section.MapTo(&raw); err != nil {
			return nil, fmt.Errorf("channel %q: %w", section.Key("name").String(), err)
		}

		freq, err := freqHz(raw.Freq)
		if err != nil {
			return nil, fmt.Errorf("channel %q: %w", raw.Name, errInvalidConfigFreq)
		}

		if !section.HasKey("squelch") {
			return nil, fmt.Errorf("channel %q: %w", raw.Name, errMissingSquelch)
		}

		cfg.Channels = append(cfg.Channels, channelConfig{
			Name: raw.Name, Freq: rf.Hz(freq),
			Squelch: float32(raw.Squelch), Gain: float32(raw.Gain),
		})
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *config) validate() error {
	if len(c.Channels) == 0 {
		return errNoChannels
	}

	if c.Radio.BufferSize%2 != 0 || c.Radio.BufferSize < MIN_BUFFER_SIZE || c.Radio.BufferSize > MAX_BUFFER_SIZE {
		return fmt.Errorf("%w: got %d", errInvalidBufferSize, c.Radio.BufferSize)
	}

	center, err := c.centerFreq()
	if err != nil {
		return err
	}

	rate, err := c.sampleRate()
	if err != nil {
		return err
	}

	if c.Misc.HandoffWorkers < 1 {
		return fmt.Errorf("handoff_workers must be at least 1, got %d", c.Misc.HandoffWorkers)
	}

	if c.Misc.HandoffQueue < 1 {
		return fmt.Errorf("handoff_queue must be at least 1, got %d", c.Misc.HandoffQueue)
	}

	for i, ch := range c.Channels {
		if ch.Name == "" {
			return fmt.Errorf("channel %d has no name", i)
		}

		if ch.Squelch < 0 || ch.Squelch > 1 {
			return fmt.Errorf("channel %q: squelch must be between 0 and 1, got %f", ch.Name, ch.Squelch)
		}

		if ch.Gain <= 0 {
			return fmt.Errorf("channel %q: gain must be positive, got %f", ch.Name, ch.Gain)
		}

		if offset := ch.Freq - center; math.Abs(float64(offset)) > float64(rate)/2 {
			return fmt.Errorf("channel %q: %.0f Hz is outside the captured band", ch.Name, float64(ch.Freq))
		}
	}

	return nil
}

func (c *config) centerFreq() (rf.Hz, error) {
	f, err := freqHz(c.Radio.CenterFreq)
	if err != nil || f == 0 {
		return 0, fmt.Errorf("center_freq %q: %w", c.Radio.CenterFreq, errInvalidConfigFreq)
	}
	return rf.Hz(f), nil
}

func (c *config) sampleRate() (uint32, error) {
	f, err := freqHz(c.Radio.SampleRate)
	if err != nil || f == 0 {
		return 0, fmt.Errorf("sample_rate %q: %w", c.Radio.SampleRate, errInvalidConfigFreq)
	}
	return f, nil
}

// offset returns a channel's distance from the capture center frequency.
func (c *config) offset(ch channelConfig) rf.Hz {
	center, _ := c.centerFreq()
	return ch.Freq - center
}

func (c *config) audioDir() string {
	return filepath.Join(c.Misc.DataDir, "audio")
}

func (c *config) databasePath() string {
	return filepath.Join(c.Misc.DataDir, "data.db")
}

func (c *config) listenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// freqHz parses values such as "144.39M", "250k" or "1090000".
func freqHz(freqStr string) (uint32, error) {
	val := strings.ToUpper(strings.TrimSpace(freqStr))

	if strings.HasSuffix(val, "K") {
		v := strings.TrimSuffix(val, "K")
		f64, err := strconv.ParseFloat(v, 64)
		return uint32(math.Round(f64 * 1e3)), err
	}

	if strings.HasSuffix(val, "M") {
		v := strings.TrimSuffix(val, "M")
		f64, err := strconv.ParseFloat(v, 64)
		return uint32(math.Round(f64 * 1e6)), err
	}

	val = strings.TrimSuffix(val, "HZ")
	f64, err := strconv.ParseFloat(val, 64)
	return uint32(math.Round(f64)), err
}
