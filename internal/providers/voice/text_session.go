package voice

import (
	"context"
	"strings"
	"sync"

	"github.com/jastalk/jastalk/internal/providers/llm"
)

// TextSession is the degraded interview channel used when the realtime
// voice vendor is unreachable: turns run text-only against the LLM
// directly. Billing is identical to the voice path; the controller
// meters it the same way.
type TextSession struct {
	llm     llm.Provider
	persona string

	h Handlers

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
}

func NewTextSession(p llm.Provider, persona string) *TextSession {
	return &TextSession{llm: p, persona: persona}
}

func (s *TextSession) Bind(h Handlers) { s.h = h }

func (s *TextSession) Start(ctx context.Context, _ string) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.stopped = false
	s.mu.Unlock()

	if s.h.OnConnected != nil {
		s.h.OnConnected()
	}
	return nil
}

// SubmitUserText runs one interview turn: the user's answer goes to
// the LLM and the reply is surfaced through the same events the voice
// path emits, so the controller's turn-taking logic is unchanged.
func (s *TextSession) SubmitUserText(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	genCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	if s.h.OnTranscript != nil {
		s.h.OnTranscript(RoleUser, text)
	}
	if s.h.OnAgentStartedSpeaking != nil {
		s.h.OnAgentStartedSpeaking()
	}

	prompt := s.persona + "\n\nCandidate said:\n" + text
	chunks, errs := s.llm.StreamAnswer(genCtx, prompt)

	var full strings.Builder
	for chunk := range chunks {
		full.WriteString(chunk)
	}

	var streamErr error
	select {
	case streamErr = <-errs:
	default:
	}

	if streamErr != nil {
		if s.h.OnError != nil {
			s.h.OnError(streamErr)
		}
	} else if reply := strings.TrimSpace(full.String()); reply != "" {
		if s.h.OnTranscript != nil {
			s.h.OnTranscript(RoleAgent, reply)
		}
	}

	if s.h.OnAgentStoppedSpeaking != nil {
		s.h.OnAgentStoppedSpeaking()
	}
}

// Interrupt cancels the in-flight generation, truncating the agent's
// current reply.
func (s *TextSession) Interrupt() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *TextSession) Stop() error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if s.h.OnDisconnected != nil {
		s.h.OnDisconnected("stopped")
	}
	return nil
}
