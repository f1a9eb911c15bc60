package tts

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-turn-gateway/internal/audio"
	"github.com/lexiqai/voice-turn-gateway/internal/cache"
	"github.com/lexiqai/voice-turn-gateway/internal/observability"
)

// CachingSynthesizer serves registered phrases (greeting, apology) from an AudioStore
// and synthesizes everything else through the wrapped synthesizer.
// Cache failures are logged and never fail synthesis.
type CachingSynthesizer struct {
	next    Synthesizer
	store   cache.AudioStore
	ttl     time.Duration
	logger  zerolog.Logger
	mu      sync.RWMutex
	phrases map[string]struct{}
}

// NewCachingSynthesizer wraps next. Phrases may be registered now or later.
func NewCachingSynthesizer(next Synthesizer, store cache.AudioStore, ttl time.Duration, logger zerolog.Logger, phrases ...string) *CachingSynthesizer {
	c := &CachingSynthesizer{
		next:    next,
		store:   store,
		ttl:     ttl,
		logger:  logger.With().Str("component", "tts_cache").Logger(),
		phrases: make(map[string]struct{}),
	}
	for _, p := range phrases {
		c.Register(p)
	}
	return c
}

// Register marks a phrase as cacheable
func (c *CachingSynthesizer) Register(phrase string) {
	if n := normalizePhrase(phrase); n != "" {
		c.mu.Lock()
		c.phrases[n] = struct{}{}
		c.mu.Unlock()
	}
}

// Name returns the wrapped provider name
func (c *CachingSynthesizer) Name() string {
	return c.next.Name()
}

// Synthesize returns cached audio for registered phrases, otherwise streams from the
// wrapped synthesizer and stores the complete audio once the stream ends cleanly
func (c *CachingSynthesizer) Synthesize(ctx context.Context, text string) (<-chan AudioChunk, error) {
	if !c.cacheable(text) {
		return c.next.Synthesize(ctx, text)
	}

	key := c.key(text)
	if data, err := c.store.Get(ctx, key); err == nil {
		if chunk, ok := decodeCached(data); ok {
			observability.RecordPhraseCache("hit")
			ch := make(chan AudioChunk, 1)
			ch <- chunk
			close(ch)
			return ch, nil
		}
	} else if !errors.Is(err, cache.ErrNotFound) {
		c.logger.Warn().Err(err).Msg("Phrase cache lookup failed")
	}
	observability.RecordPhraseCache("miss")

	upstream, err := c.next.Synthesize(ctx, text)
	if err != nil {
		return nil, err
	}

	ch := make(chan AudioChunk, cap(upstream))
	go func() {
		defer close(ch)

		var collected []byte
		rate := 0
		for chunk := range upstream {
			if chunk.Err == nil {
				collected = append(collected, chunk.Data...)
				rate = chunk.SampleRate
			}
			if !send(ctx, ch, chunk) {
				return
			}
			if chunk.Err != nil {
				return
			}
		}

		if len(collected) == 0 {
			return
		}
		if err := c.store.Put(context.WithoutCancel(ctx), key, encodeCached(collected, rate), c.ttl); err != nil {
			c.logger.Warn().Err(err).Msg("Phrase cache store failed")
			return
		}
		c.logger.Debug().Int("bytes", len(collected)).Msg("Phrase cached")
	}()

	return ch, nil
}

func (c *CachingSynthesizer) cacheable(text string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.phrases[normalizePhrase(text)]
	return ok
}

func (c *CachingSynthesizer) key(text string) string {
	sum := sha256.Sum256([]byte(normalizePhrase(text)))
	return "phrase:" + c.next.Name() + ":" + hex.EncodeToString(sum[:])
}

func normalizePhrase(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// cached phrases are stored as a 4-byte big-endian sample rate followed by PCM16
func encodeCached(pcm []byte, rate int) []byte {
	out := make([]byte, 4+len(pcm))
	binary.BigEndian.PutUint32(out, uint32(rate))
	copy(out[4:], pcm)
	return out
}

func decodeCached(data []byte) (AudioChunk, bool) {
	if len(data) < 6 {
		return AudioChunk{}, false
	}
	rate := int(binary.BigEndian.Uint32(data))
	if rate <= 0 {
		return AudioChunk{}, false
	}
	return AudioChunk{Data: data[4:], SampleRate: rate, Encoding: audio.EncodingLinear16}, true
}
