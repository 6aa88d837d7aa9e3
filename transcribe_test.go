package main

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWhisper(url string) *whisperClient {
	cfg := testConfig()
	cfg.Misc.TranscribeEndpoint = url
	cfg.Misc.TranscribeModel = "base.en"
	cfg.Misc.TranscribeTimeout = 5 * time.Second
	return newWhisperClient(cfg)
}

func TestWhisperTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}

		assert.Equal(t, "json", r.FormValue("response_format"))
		assert.Equal(t, "base.en", r.FormValue("model"))
		assert.Equal(t, "en", r.FormValue("language"))

		f, _, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		body, err := io.ReadAll(f)
		assert.NoError(t, err)

		dec := wav.NewDecoder(bytes.NewReader(body))
		dec.ReadInfo()
		assert.True(t, dec.IsValidFile())
		assert.Equal(t, uint32(transcribeSampleRate), dec.SampleRate)
		assert.Equal(t, uint16(1), dec.NumChans)
		assert.Equal(t, uint16(16), dec.BitDepth)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"  tower, ready for departure \n"}`))
	}))
	defer srv.Close()

	text, err := newTestWhisper(srv.URL).transcribe(make([]float32, 1600))
	require.NoError(t, err)
	assert.Equal(t, "tower, ready for departure", text)
}

func TestWhisperErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"server error", http.StatusInternalServerError, "boom", errTranscription},
		{"bad json", http.StatusOK, "not json", errTranscription},
		{"engine error", http.StatusOK, `{"error":"model not loaded"}`, errTranscription},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestWhisper(srv.URL).transcribe([]float32{0.1})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestWhisperUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestWhisper(url).transcribe([]float32{0.1})
	assert.ErrorIs(t, err, errTranscription)
}

func TestWhisperEmptyAudio(t *testing.T) {
	_, err := newTestWhisper("http://127.0.0.1:1").transcribe(nil)
	assert.ErrorIs(t, err, errEmptyAudio)
}
