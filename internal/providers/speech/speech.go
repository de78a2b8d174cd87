package speech

// Handlers receives transcript events from local speech capture.
type Handlers struct {
	OnResult func(text string, final bool)
	OnEnded  func()
	OnError  func(err error)
}

// Capture is the user-side speech-to-text pipeline. It is started and
// stopped in lockstep with turn-taking: it must not run while the
// agent is speaking.
type Capture interface {
	Bind(h Handlers)
	Start() error
	Stop()
}
