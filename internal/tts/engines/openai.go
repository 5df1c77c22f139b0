package engines

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/osay/internal/tts"
	"golang.org/x/time/rate"
)

// OpenAI voices for the gpt-4o-mini-tts model.
var openAIVoices = []string{
	"alloy", "ash", "ballad", "coral", "echo",
	"fable", "nova", "onyx", "sage", "shimmer",
}

// DefaultOpenAIVoice is used when the request names no voice.
const DefaultOpenAIVoice = "onyx"

// openAIFormats is what the speech endpoint can encode.
var openAIFormats = []tts.Format{
	tts.FormatMP3,
	tts.FormatOpus,
	tts.FormatAAC,
	tts.FormatFLAC,
	tts.FormatWAV,
	tts.FormatPCM,
}

// OpenAIConfig holds configuration for the OpenAI speech engine.
type OpenAIConfig struct {
	// APIKey is the bearer token. Required.
	APIKey string

	// BaseURL overrides the API host, for proxies and compatible servers.
	// Defaults to https://api.openai.com.
	BaseURL string

	// Model selects the speech model. Defaults to gpt-4o-mini-tts.
	Model string

	// Timeout bounds each HTTP request. Defaults to 60s, which covers
	// buffered synthesis of long texts. Streaming responses are read
	// beyond this deadline; they are bounded by the caller's context.
	Timeout time.Duration

	// RequestsPerMinute throttles outgoing requests client-side.
	// Defaults to 30.
	RequestsPerMinute int
}

// OpenAI synthesizes speech through the /v1/audio/speech endpoint. It
// supports buffered synthesis in every format the endpoint offers and
// streaming delivery of raw PCM.
type OpenAI struct {
	apiKey  string
	baseURL string
	model   string

	// client bounds buffered calls end to end. streamClient bounds only
	// connection and header latency: a streamed body outlives any fixed
	// timeout, so reads are limited by the caller's context alone.
	client       *http.Client
	streamClient *http.Client
	limiter      *rate.Limiter
}

// NewOpenAI creates the remote engine. The credential is not validated
// here; a bad key surfaces as ErrRemoteAuth on first use.
func NewOpenAI(config OpenAIConfig) *OpenAI {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com"
	}
	if config.Model == "" {
		config.Model = "gpt-4o-mini-tts"
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 30
	}

	streamTransport := http.DefaultTransport.(*http.Transport).Clone()
	streamTransport.ResponseHeaderTimeout = config.Timeout

	return &OpenAI{
		apiKey:       config.APIKey,
		baseURL:      config.BaseURL,
		model:        config.Model,
		client:       &http.Client{Timeout: config.Timeout},
		streamClient: &http.Client{Transport: streamTransport},
		limiter:      rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.RequestsPerMinute)), 1),
	}
}

// Name identifies the engine in logs and cache metadata.
func (o *OpenAI) Name() string { return "openai" }

// Voices returns the static voice table for the speech model.
func (o *OpenAI) Voices(_ context.Context) ([]string, error) {
	voices := make([]string, len(openAIVoices))
	copy(voices, openAIVoices)
	return voices, nil
}

// speechRequest is the JSON body for /v1/audio/speech.
type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
	Instructions   string `json:"instructions,omitempty"`
}

// Synthesize renders the whole clip in the requested format.
func (o *OpenAI) Synthesize(ctx context.Context, req tts.Request) (tts.Clip, error) {
	format := req.Format
	if format == "" {
		format = tts.DefaultFormat
	}
	if err := o.validate(req.Voice, format); err != nil {
		return tts.Clip{}, err
	}

	body, err := o.post(ctx, o.client, req, format)
	if err != nil {
		return tts.Clip{}, err
	}
	defer body.Close() //nolint:errcheck

	data, err := io.ReadAll(body)
	if err != nil {
		return tts.Clip{}, fmt.Errorf("%w: reading audio response: %v", tts.ErrRemoteTransport, err)
	}

	log.Debug("synthesized audio", "engine", "openai", "bytes", len(data), "format", format)
	return tts.Clip{Data: data, Format: format}, nil
}

// SynthesizeStream starts synthesis and hands back the response body as a
// pull stream of raw PCM. The endpoint's incremental delivery contract is
// PCM only (24kHz, 16-bit little-endian, mono), so the requested format is
// deliberately ignored here. Closing the reader abandons the stream.
func (o *OpenAI) SynthesizeStream(ctx context.Context, req tts.Request) (io.ReadCloser, error) {
	if err := o.validate(req.Voice, tts.FormatPCM); err != nil {
		return nil, err
	}
	if req.Format != "" && req.Format != tts.FormatPCM {
		log.Debug("streaming forces pcm", "requested", req.Format)
	}
	return o.post(ctx, o.streamClient, req, tts.FormatPCM)
}

func (o *OpenAI) validate(voice string, format tts.Format) error {
	if voice != "" && !contains(openAIVoices, voice) {
		return tts.InvalidVoiceError(voice, openAIVoices)
	}
	for _, f := range openAIFormats {
		if format == f {
			return nil
		}
	}
	return tts.InvalidFormatError(string(format), openAIFormats)
}

// post issues the synthesis request and returns the body on HTTP 200. The
// call never retries: a throttle or outage is reported to the user, who
// decides whether to run again.
func (o *OpenAI) post(ctx context.Context, client *http.Client, req tts.Request, format tts.Format) (io.ReadCloser, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	voice := req.Voice
	if voice == "" {
		voice = DefaultOpenAIVoice
	}

	payload, err := json.Marshal(speechRequest{
		Model:          o.model,
		Input:          req.Text,
		Voice:          voice,
		ResponseFormat: string(format),
		Instructions:   req.Instructions,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to encode speech request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/v1/audio/speech", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("unable to build speech request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", tts.ErrRemoteTransport, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close() //nolint:errcheck
		return nil, classifyStatus(resp)
	}
	return resp.Body, nil
}

// apiError is the error envelope the API wraps failures in.
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// classifyStatus maps a non-200 response to one of the remote error kinds,
// keeping whatever detail the API put in the body.
func classifyStatus(resp *http.Response) error {
	detail := fmt.Sprintf("HTTP %d", resp.StatusCode)
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil {
		var ae apiError
		if json.Unmarshal(raw, &ae) == nil && ae.Error.Message != "" {
			detail = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, ae.Error.Message)
		}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s (check OPENAI_API_KEY)", tts.ErrRemoteAuth, detail)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", tts.ErrRemoteRateLimited, detail)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s", tts.ErrRemoteTransport, detail)
	default:
		return fmt.Errorf("%w: %s", tts.ErrRemoteRequest, detail)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

var (
	_ tts.Engine          = (*OpenAI)(nil)
	_ tts.StreamingEngine = (*OpenAI)(nil)
)
