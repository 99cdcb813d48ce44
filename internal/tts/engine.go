package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/chatvox/chatvox/internal/config"
)

// ErrAllEndpointsFailed marks a chunk for which every endpoint sweep
// and every retry came back empty.
var ErrAllEndpointsFailed = errors.New("tts: all endpoints failed")

// ErrEmptySpeech is returned when a job yields no synthesizable chunks.
var ErrEmptySpeech = errors.New("tts: nothing to synthesize")

// Engine is the HTTP synthesis client. One Engine is shared by all
// concurrent jobs; it is safe for concurrent use.
type Engine struct {
	endpoints  []config.Endpoint
	client     *http.Client
	limiter    *rate.Limiter
	cache      *chunkCache
	maxChunks  int
	maxRetries int
	retryDelay time.Duration
}

// NewEngine builds an Engine from the synthesis configuration. The
// request timeout applies per HTTP attempt, not per job.
func NewEngine(cfg config.SynthesisConfig) *Engine {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = config.DefaultRequestsPerMinute
	}
	burst := cfg.MaxChunkRequests
	if burst < 1 {
		burst = 1
	}
	return &Engine{
		endpoints:  cfg.Endpoints,
		client:     &http.Client{Timeout: cfg.RequestTimeout},
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), burst),
		cache:      newChunkCache(defaultCacheBytes),
		maxChunks:  cfg.MaxChunkRequests,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}
}

// Synthesize splits the message into chunks, synthesizes them
// concurrently and returns the audio concatenated in chunk order. One
// failed chunk fails the whole call.
func (e *Engine) Synthesize(ctx context.Context, display, text, voice string) ([]byte, error) {
	chunks := SplitSpeech(display, text)
	if len(chunks) == 0 {
		return nil, ErrEmptySpeech
	}

	results := make([][]byte, len(chunks))
	errs := make([]error, len(chunks))

	sem := make(chan struct{}, max(1, e.maxChunks))
	var wg sync.WaitGroup
	for i, chunk := range chunks {
		wg.Add(1)
		go func(i int, chunk string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i], errs[i] = e.synthesizeChunk(ctx, chunk, voice)
		}(i, chunk)
	}
	wg.Wait()

	var size int
	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		size += len(results[i])
	}

	audio := make([]byte, 0, size)
	for _, part := range results {
		audio = append(audio, part...)
	}
	return audio, nil
}

// synthesizeChunk sweeps the endpoints in listed order and repeats the
// sweep up to the retry limit, waiting a linearly growing delay
// between sweeps.
func (e *Engine) synthesizeChunk(ctx context.Context, chunk, voice string) ([]byte, error) {
	if audio, ok := e.cache.get(voice, chunk); ok {
		return audio, nil
	}

	attempts := max(1, e.maxRetries)
	for attempt := 1; attempt <= attempts; attempt++ {
		for _, ep := range e.endpoints {
			audio, err := e.request(ctx, ep, chunk, voice)
			if err == nil {
				e.cache.put(voice, chunk, audio)
				return audio, nil
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Debug("synthesis request failed",
				"endpoint", ep.Name, "attempt", attempt, "err", err)
		}
		if attempt < attempts {
			select {
			case <-time.After(e.retryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, ErrAllEndpointsFailed
}

// request performs one POST against one endpoint and decodes the
// base64 audio out of the configured response field.
func (e *Engine) request(ctx context.Context, ep config.Endpoint, chunk, voice string) ([]byte, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(map[string]string{"text": chunk, "voice": voice})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s: http %d", ep.Name, resp.StatusCode)
	}

	var fields map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&fields); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", ep.Name, err)
	}
	raw, ok := fields[ep.ResponseField]
	if !ok {
		return nil, fmt.Errorf("%s: response field %q missing", ep.Name, ep.ResponseField)
	}
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, fmt.Errorf("%s: response field %q not a string: %w", ep.Name, ep.ResponseField, err)
	}
	audio, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%s: decode audio: %w", ep.Name, err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("%s: empty audio payload", ep.Name)
	}
	return audio, nil
}
