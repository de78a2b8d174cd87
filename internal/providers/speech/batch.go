package speech

import (
	"context"
	"sync"

	"github.com/jastalk/jastalk/internal/providers/stt"
)

// BatchCapture transcribes finished audio chunks with a batch STT
// provider. Chunks fed while the capture is stopped (the agent's turn)
// are dropped rather than queued, matching the lockstep contract.
type BatchCapture struct {
	stt      stt.Provider
	language string

	h Handlers

	mu      sync.Mutex
	running bool
}

func NewBatchCapture(p stt.Provider, language string) *BatchCapture {
	if language == "" {
		language = "en-US"
	}
	return &BatchCapture{stt: p, language: language}
}

func (c *BatchCapture) Bind(h Handlers) { c.h = h }

func (c *BatchCapture) Start() error {
	c.mu.Lock()
	c.running = true
	c.mu.Unlock()
	return nil
}

func (c *BatchCapture) Stop() {
	c.mu.Lock()
	wasRunning := c.running
	c.running = false
	c.mu.Unlock()

	if wasRunning && c.h.OnEnded != nil {
		c.h.OnEnded()
	}
}

// Feed transcribes one audio chunk and emits the result.
func (c *BatchCapture) Feed(ctx context.Context, audio []byte) {
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()
	if !running || len(audio) == 0 {
		return
	}

	text, _, err := c.stt.Transcribe(ctx, audio, c.language)
	if err != nil {
		if c.h.OnError != nil {
			c.h.OnError(err)
		}
		return
	}
	if text != "" && c.h.OnResult != nil {
		c.h.OnResult(text, true)
	}
}
