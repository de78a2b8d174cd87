package voice

import "context"

type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Handlers receives lifecycle and turn-taking events from a live voice
// channel. Callbacks must not mutate shared state directly; they
// enqueue work on the session controller, which serializes it.
type Handlers struct {
	OnConnected            func()
	OnDisconnected         func(reason string)
	OnAgentStartedSpeaking func()
	OnAgentStoppedSpeaking func()
	OnTranscript           func(role Role, text string)
	OnError                func(err error)
}

// Session is a live, bidirectional channel to the AI interviewer.
type Session interface {
	// Bind registers the event handlers. Must be called before Start.
	Bind(h Handlers)
	Start(ctx context.Context, sessionToken string) error
	// Interrupt stops any in-flight agent audio without closing the
	// channel (barge-in, pause fade-out).
	Interrupt()
	// Stop is idempotent and safe to call even if Start never ran.
	Stop() error
}
