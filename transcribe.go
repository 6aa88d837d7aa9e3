package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

var (
	errTranscription = errors.New("transcription engine unavailable")
	errEmptyAudio    = errors.New("cannot transcribe empty audio")
)

var transcribeSpec = sinkSpec{channels: 1, sampleRate: transcribeSampleRate, bitDepth: 16}

// whisperClient talks to a whisper.cpp style inference server. Audio must be
// mono at transcribeSampleRate.
type whisperClient struct {
	endpoint   string
	model      string
	language   string
	httpClient *http.Client
}

type whisperResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

func newWhisperClient(cfg *config) *whisperClient {
	return &whisperClient{
		endpoint:   cfg.Misc.TranscribeEndpoint,
		model:      cfg.Misc.TranscribeModel,
		language:   cfg.Misc.TranscribeLanguage,
		httpClient: &http.Client{Timeout: cfg.Misc.TranscribeTimeout},
	}
}

func (c *whisperClient) transcribe(samples []float32) (string, error) {
	if len(samples) == 0 {
		return "", errEmptyAudio
	}

	body, contentType, err := c.createMultipartRequest(samples)
	if err != nil {
		return "", fmt.Errorf("failed to create multipart request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.endpoint, body)
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errTranscription, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %v", errTranscription, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: HTTP %d: %s", errTranscription, resp.StatusCode, bytes.TrimSpace(respBody))
	}

	var out whisperResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("%w: parsing response: %v", errTranscription, err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("%w: %s", errTranscription, out.Error)
	}

	return strings.TrimSpace(out.Text), nil
}

func (c *whisperClient) createMultipartRequest(samples []float32) (io.Reader, string, error) {
	var wavBody memFile
	if err := encodeWAV(&wavBody, samples, transcribeSpec); err != nil {
		return nil, "", fmt.Errorf("encoding wav: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", fmt.Sprintf("audio-%d.wav", time.Now().UnixNano()))
	if err != nil {
		return nil, "", err
	}
	if _, err := fileWriter.Write(wavBody.Bytes()); err != nil {
		return nil, "", err
	}

	fields := map[string]string{
		"response_format": "json",
		"temperature":     "0.0",
	}
	if c.model != "" {
		fields["model"] = c.model
	}
	if c.language != "" {
		fields["language"] = c.language
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}

	return &buf, writer.FormDataContentType(), nil
}
