package interview

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jastalk/jastalk/internal/credits"
	"github.com/jastalk/jastalk/internal/models"
	"github.com/jastalk/jastalk/internal/providers/speech"
	"github.com/jastalk/jastalk/internal/providers/voice"
	"github.com/jastalk/jastalk/internal/services"
	"github.com/jastalk/jastalk/internal/utils"
)

type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusActive     Status = "active"
	StatusPaused     Status = "paused"
	StatusFinished   Status = "finished"
)

// Turn is the turn-taking sub-state while an interview is active.
type Turn string

const (
	TurnWaiting Turn = "waiting"
	TurnUser    Turn = "user"
	TurnAgent   Turn = "agent"
)

// Deps are the collaborators a controller orchestrates. External
// callbacks (voice, speech) never mutate controller state directly;
// they call back into controller methods, which serialize under one
// mutex.
type Deps struct {
	Log *logrus.Logger

	State *credits.State
	Meter *credits.Meter

	Voice  voice.Session
	Speech speech.Capture

	Sessions services.SessionService
	Convos   services.ConversationService
	Analysis services.AnalysisService
}

// Controller drives one interview attempt through
// Idle → Connecting → Active → {Paused, Finished}, coordinating the
// voice channel, speech capture, credit meter, and session snapshots.
// Finished is terminal; Paused can reconnect.
type Controller struct {
	log *logrus.Logger

	userID    string
	sessionID string

	state *credits.State
	meter *credits.Meter

	voice  voice.Session
	speech speech.Capture

	sessions services.SessionService
	convos   services.ConversationService
	analysis services.AnalysisService

	mu            sync.Mutex
	status        Status
	turn          Turn
	degraded      bool
	agentIdentity string
	questions     []models.Question
	questionIdx   int
	history       []models.ConversationTurn
	startedAt     time.Time
	elapsedBase   int64 // seconds accumulated in previous segments (resume)
	foldedSeconds int   // seconds of the current meter segment already in elapsedBase
	autoResume    bool
	tearingDown   bool
	now           func() time.Time
}

func NewController(session *models.InterviewSession, d Deps) *Controller {
	log := d.Log
	if log == nil {
		log = logrus.New()
	}
	// A controller rebuilt from a paused snapshot resumes, it does not
	// start over.
	status := StatusIdle
	if session.Status == models.SessionPaused {
		status = StatusPaused
	}
	c := &Controller{
		log:           log,
		userID:        session.UserID,
		sessionID:     session.SessionID,
		state:         d.State,
		meter:         d.Meter,
		voice:         d.Voice,
		speech:        d.Speech,
		sessions:      d.Sessions,
		convos:        d.Convos,
		analysis:      d.Analysis,
		status:        status,
		turn:          TurnWaiting,
		agentIdentity: session.AgentIdentity,
		questions:     session.Questions,
		questionIdx:   session.CurrentQuestionIndex,
		history:       session.History,
		elapsedBase:   session.ElapsedSeconds,
		now:           time.Now,
	}
	c.bindCallbacks()
	return c
}

func (c *Controller) bindCallbacks() {
	c.voice.Bind(voice.Handlers{
		OnConnected:            c.handleVoiceConnected,
		OnDisconnected:         c.handleVoiceDisconnected,
		OnAgentStartedSpeaking: c.handleAgentStartedSpeaking,
		OnAgentStoppedSpeaking: c.handleAgentStoppedSpeaking,
		OnTranscript:           c.handleTranscript,
		OnError:                c.handleVoiceError,
	})
	c.speech.Bind(speech.Handlers{
		OnResult: c.handleSpeechResult,
		OnError: func(err error) {
			c.log.WithError(err).WithField("session_id", c.sessionID).Warn("speech capture error")
		},
	})
}

func (c *Controller) SessionID() string { return c.sessionID }

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Controller) Turn() Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turn
}

// Degraded reports whether the interview fell back to the text-only path.
func (c *Controller) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// Start begins the interview: Idle → Connecting. Requires remaining
// credit and a question set. A voice connection failure falls back to
// the degraded text-only channel; billing is unchanged either way.
func (c *Controller) Start(ctx context.Context) error {
	const op = "Controller.Start"

	c.mu.Lock()
	if c.status != StatusIdle {
		c.mu.Unlock()
		return utils.E(utils.CodeConflict, op, "interview already started", nil)
	}
	if len(c.questions) == 0 || c.agentIdentity == "" {
		c.mu.Unlock()
		return utils.E(utils.CodeInvalidArgument, op, "an interviewer and question set are required", nil)
	}
	if !c.state.Balance().HasCredit() {
		c.mu.Unlock()
		return utils.E(utils.CodeInsufficientCredit, op, "no interview credit remaining", nil)
	}
	c.status = StatusConnecting
	c.mu.Unlock()

	c.connect(ctx)
	return nil
}

// Resume reloads the persisted snapshot and re-enters Connecting:
// Paused → Connecting.
func (c *Controller) Resume(ctx context.Context) error {
	const op = "Controller.Resume"

	c.mu.Lock()
	if c.status != StatusPaused {
		c.mu.Unlock()
		return utils.E(utils.CodeConflict, op, "interview is not paused", nil)
	}
	if !c.state.Balance().HasCredit() {
		c.mu.Unlock()
		return utils.E(utils.CodeInsufficientCredit, op, "no interview credit remaining", nil)
	}
	c.mu.Unlock()

	if snap, err := c.sessions.Get(ctx, c.sessionID); err == nil {
		c.mu.Lock()
		c.history = snap.History
		c.questionIdx = snap.CurrentQuestionIndex
		c.elapsedBase = snap.ElapsedSeconds
		c.mu.Unlock()
	} else {
		c.log.WithError(err).WithField("session_id", c.sessionID).Warn("resume without persisted snapshot")
	}

	c.mu.Lock()
	c.status = StatusConnecting
	c.mu.Unlock()

	c.connect(ctx)
	return nil
}

func (c *Controller) connect(ctx context.Context) {
	if err := c.voice.Start(ctx, c.sessionID); err != nil {
		c.log.WithError(err).WithField("session_id", c.sessionID).
			Warn("voice session failed to open, falling back to text-only")
		c.mu.Lock()
		c.degraded = true
		c.mu.Unlock()
		// The degraded channel is "connected" immediately; same billing.
		c.handleVoiceConnected()
	}
}

// handleVoiceConnected drives Connecting → Active and starts metering.
func (c *Controller) handleVoiceConnected() {
	c.mu.Lock()
	if c.status != StatusConnecting {
		c.mu.Unlock()
		return
	}
	// Credit is re-checked on every entry into Active; a balance that
	// hit zero while connecting forces the session shut instead.
	if !c.state.Balance().HasCredit() {
		c.status = StatusActive
		c.mu.Unlock()
		c.log.WithField("session_id", c.sessionID).Warn("credit exhausted before connect, closing session")
		_ = c.Finish(context.Background())
		return
	}
	c.status = StatusActive
	c.turn = TurnWaiting
	c.foldedSeconds = 0
	if c.startedAt.IsZero() {
		c.startedAt = c.now().UTC()
	}
	c.mu.Unlock()

	if err := c.meter.Start(context.Background()); err != nil {
		c.log.WithError(err).WithField("session_id", c.sessionID).Warn("credit meter refused to start")
		_ = c.Finish(context.Background())
		return
	}

	if err := c.sessions.MarkActive(context.Background(), c.sessionID); err != nil {
		c.log.WithError(err).WithField("session_id", c.sessionID).Warn("failed to mark session active")
	}
}

func (c *Controller) handleVoiceDisconnected(reason string) {
	c.mu.Lock()
	// Teardown closes the channel itself; only an unexpected drop
	// triggers the auto-pause.
	active := c.status == StatusActive && !c.tearingDown
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{"session_id": c.sessionID, "reason": reason}).Info("voice session disconnected")
	if active {
		// A dropped channel must not keep the meter burning credit.
		if err := c.Pause(context.Background()); err != nil {
			c.log.WithError(err).WithField("session_id", c.sessionID).Warn("auto-pause after disconnect failed")
		}
	}
}

func (c *Controller) handleVoiceError(err error) {
	c.log.WithError(err).WithField("session_id", c.sessionID).Warn("voice session error")
}

// handleAgentStartedSpeaking gates speech capture off: capturing while
// the agent is talking is disallowed.
func (c *Controller) handleAgentStartedSpeaking() {
	c.mu.Lock()
	c.turn = TurnAgent
	c.mu.Unlock()
	c.speech.Stop()
}

func (c *Controller) handleAgentStoppedSpeaking() {
	c.mu.Lock()
	if c.status != StatusActive {
		c.mu.Unlock()
		return
	}
	c.turn = TurnUser
	c.mu.Unlock()

	if err := c.speech.Start(); err != nil {
		c.log.WithError(err).WithField("session_id", c.sessionID).Warn("speech capture failed to start")
	}
}

func (c *Controller) handleTranscript(role voice.Role, text string) {
	speaker := "agent"
	if role == voice.RoleUser {
		speaker = "user"
	}
	c.appendTurn(speaker, text)
}

func (c *Controller) handleSpeechResult(text string, final bool) {
	if final {
		c.appendTurn("user", text)
	}
}

// RecordUserTurn and RecordAgentTurn are the transcript entry points
// for the WebSocket path, where turns arrive as discrete messages
// rather than voice-session callbacks.
func (c *Controller) RecordUserTurn(text string) { c.appendTurn("user", text) }

func (c *Controller) RecordAgentTurn(text string) { c.appendTurn("agent", text) }

func (c *Controller) appendTurn(speaker, text string) {
	if text == "" {
		return
	}
	turn := models.ConversationTurn{Speaker: speaker, Text: text, Timestamp: c.now().UTC()}

	c.mu.Lock()
	c.history = append(c.history, turn)
	c.mu.Unlock()

	if _, err := c.convos.Append(context.Background(), c.userID, c.sessionID, speaker, text, nil, nil); err != nil {
		c.log.WithError(err).WithField("session_id", c.sessionID).Warn("failed to persist conversation turn")
	}
}

// AdvanceQuestion moves to the next question, clamping at the end.
func (c *Controller) AdvanceQuestion() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.questionIdx < len(c.questions)-1 {
		c.questionIdx++
	}
	return c.questionIdx
}

// CurrentQuestion returns the question the interview is on.
func (c *Controller) CurrentQuestion() (models.Question, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.questions) == 0 {
		return models.Question{}, 0
	}
	idx := c.questionIdx
	if idx >= len(c.questions) {
		idx = len(c.questions) - 1
	}
	return c.questions[idx], idx
}

// SetAutoResume arms or clears the auto-resume intent (set when the
// client asks to reconnect; cleared by every pause so a fresh pause is
// not immediately undone).
func (c *Controller) SetAutoResume(v bool) {
	c.mu.Lock()
	c.autoResume = v
	c.mu.Unlock()
}

func (c *Controller) AutoResume() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoResume
}

// Pause suspends a live interview: Active → Paused. Teardown order
// matters: capture first, then in-flight agent audio, then the
// channel, then the meter (which syncs the ledger and arms the
// post-session lock), then the snapshot.
func (c *Controller) Pause(ctx context.Context) error {
	const op = "Controller.Pause"

	c.mu.Lock()
	if c.status != StatusActive && c.status != StatusConnecting {
		c.mu.Unlock()
		return utils.E(utils.CodeConflict, op, "interview is not running", nil)
	}
	c.mu.Unlock()

	c.teardown(ctx, models.SessionPaused)

	c.mu.Lock()
	c.status = StatusPaused
	c.autoResume = false
	c.mu.Unlock()
	return nil
}

// Finish ends the interview for good: Active → Finished. Same
// teardown as pause, then completion accounting and the downstream
// analysis kick-off.
func (c *Controller) Finish(ctx context.Context) error {
	const op = "Controller.Finish"

	c.mu.Lock()
	if c.status == StatusFinished {
		c.mu.Unlock()
		return nil
	}
	if c.status != StatusActive && c.status != StatusConnecting && c.status != StatusPaused {
		c.mu.Unlock()
		return utils.E(utils.CodeConflict, op, "interview is not running", nil)
	}
	c.mu.Unlock()

	c.teardown(ctx, models.SessionCompleted)

	c.mu.Lock()
	c.status = StatusFinished
	// teardown already folded the final segment into elapsedBase.
	elapsed := c.elapsedBase
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	if _, err := c.sessions.Complete(ctx, c.sessionID, elapsed); err != nil {
		c.log.WithError(err).WithField("session_id", c.sessionID).Warn("failed to finalize session record")
	}

	if c.analysis != nil && len(snapshot.History) > 0 {
		go func() {
			if _, err := c.analysis.GenerateForSession(context.Background(), snapshot); err != nil {
				c.log.WithError(err).WithField("session_id", c.sessionID).Warn("analysis generation failed")
			}
		}()
	}
	return nil
}

func (c *Controller) teardown(ctx context.Context, status models.SessionStatus) {
	c.mu.Lock()
	c.tearingDown = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.tearingDown = false
		c.mu.Unlock()
	}()

	// (1) stop capturing the user
	c.speech.Stop()
	// (2) cut any in-flight agent audio so a stale playback callback
	// cannot flip turn state after the session is gone
	c.voice.Interrupt()
	// (3) close the channel
	if err := c.voice.Stop(); err != nil {
		c.log.WithError(err).WithField("session_id", c.sessionID).Warn("voice stop failed")
	}
	// (4) stop metering: syncs the ledger, arms the post-session lock
	c.meter.Stop()

	// (5) persist the snapshot for resume / the record for completion
	seg := c.meter.SessionSeconds()
	c.mu.Lock()
	c.elapsedBase += int64(seg - c.foldedSeconds)
	c.foldedSeconds = seg
	c.turn = TurnWaiting
	history := append([]models.ConversationTurn(nil), c.history...)
	questionIdx := c.questionIdx
	elapsed := c.elapsedBase
	c.mu.Unlock()

	if err := c.sessions.SaveSnapshot(ctx, c.sessionID, status, history, questionIdx, elapsed); err != nil {
		c.log.WithError(err).WithField("session_id", c.sessionID).Warn("failed to persist session snapshot")
	}
}

// snapshotLocked must be called with c.mu held.
func (c *Controller) snapshotLocked() *models.InterviewSession {
	return &models.InterviewSession{
		SessionID:            c.sessionID,
		UserID:               c.userID,
		AgentIdentity:        c.agentIdentity,
		Questions:            c.questions,
		CurrentQuestionIndex: c.questionIdx,
		Status:               models.SessionCompleted,
		History:              append([]models.ConversationTurn(nil), c.history...),
		ElapsedSeconds:       c.elapsedBase,
	}
}
