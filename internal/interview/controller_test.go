package interview

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jastalk/jastalk/internal/credits"
	"github.com/jastalk/jastalk/internal/models"
	"github.com/jastalk/jastalk/internal/providers/speech"
	"github.com/jastalk/jastalk/internal/providers/voice"
	"github.com/jastalk/jastalk/internal/utils"
)

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	l.calls = append(l.calls, s)
	l.mu.Unlock()
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeVoice struct {
	log      *callLog
	h        voice.Handlers
	startErr error
	connect  bool // fire OnConnected synchronously from Start
}

func (f *fakeVoice) Bind(h voice.Handlers) { f.h = h }

func (f *fakeVoice) Start(ctx context.Context, token string) error {
	f.log.add("voice.start")
	if f.startErr != nil {
		return f.startErr
	}
	if f.connect {
		f.h.OnConnected()
	}
	return nil
}

func (f *fakeVoice) Interrupt() { f.log.add("voice.interrupt") }

func (f *fakeVoice) Stop() error {
	f.log.add("voice.stop")
	return nil
}

type fakeSpeech struct {
	log *callLog
	h   speech.Handlers
}

func (f *fakeSpeech) Bind(h speech.Handlers) { f.h = h }

func (f *fakeSpeech) Start() error {
	f.log.add("speech.start")
	return nil
}

func (f *fakeSpeech) Stop() { f.log.add("speech.stop") }

type fakeStore struct {
	mu      sync.Mutex
	minutes int
	seconds int
	err     error
	written []credits.Balance
}

func (f *fakeStore) Balance(ctx context.Context, userID string) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.minutes, f.seconds, f.err
}

func (f *fakeStore) SetRemaining(ctx context.Context, userID string, minutes, seconds int) error {
	f.mu.Lock()
	f.written = append(f.written, credits.Balance{Minutes: minutes, Seconds: seconds})
	f.mu.Unlock()
	return nil
}

type fakeSessions struct {
	mu        sync.Mutex
	docs      map[string]*models.InterviewSession
	snapshots []models.SessionStatus
}

func newFakeSessions(docs ...*models.InterviewSession) *fakeSessions {
	f := &fakeSessions{docs: map[string]*models.InterviewSession{}}
	for _, d := range docs {
		f.docs[d.SessionID] = d
	}
	return f
}

func (f *fakeSessions) Create(ctx context.Context, userID, agentIdentity string, questions []models.Question) (*models.InterviewSession, error) {
	return nil, errors.New("not used")
}

func (f *fakeSessions) Get(ctx context.Context, sessionID string) (*models.InterviewSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.docs[sessionID]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, utils.E(utils.CodeNotFound, "fake.Get", "session not found", utils.ErrNotFound)
}

func (f *fakeSessions) MarkActive(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.docs[sessionID]; ok {
		d.Status = models.SessionActive
	}
	return nil
}

func (f *fakeSessions) SaveSnapshot(ctx context.Context, sessionID string, status models.SessionStatus, history []models.ConversationTurn, questionIndex int, elapsedSeconds int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, status)
	if d, ok := f.docs[sessionID]; ok {
		d.Status = status
		d.History = history
		d.CurrentQuestionIndex = questionIndex
		d.ElapsedSeconds = elapsedSeconds
	}
	return nil
}

func (f *fakeSessions) Complete(ctx context.Context, sessionID string, elapsedSeconds int64) (*models.InterviewSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.docs[sessionID]
	d.Status = models.SessionCompleted
	d.ElapsedSeconds = elapsedSeconds
	return d, nil
}

func (f *fakeSessions) SetAnalysis(ctx context.Context, sessionID, analysis string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.docs[sessionID]; ok {
		d.Analysis = analysis
	}
	return nil
}

type fakeConvos struct {
	mu   sync.Mutex
	rows []models.ConversationLog
}

func (f *fakeConvos) Append(ctx context.Context, userID, sessionID, speaker, content string, embedding []float32, metadataJSON []byte) (*models.ConversationLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := models.ConversationLog{UserID: userID, SessionID: sessionID, Speaker: speaker, Content: content}
	f.rows = append(f.rows, row)
	return &row, nil
}

func (f *fakeConvos) ListBySession(ctx context.Context, userID, sessionID string, limit int) ([]models.ConversationLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ConversationLog(nil), f.rows...), nil
}

type fakeAnalysis struct {
	done chan string
}

func (f *fakeAnalysis) GenerateForSession(ctx context.Context, session *models.InterviewSession) (string, error) {
	f.done <- session.SessionID
	return "solid performance", nil
}

type fixture struct {
	ctrl     *Controller
	state    *credits.State
	meter    *credits.Meter
	voice    *fakeVoice
	speech   *fakeSpeech
	sessions *fakeSessions
	convos   *fakeConvos
	analysis *fakeAnalysis
	log      *callLog
}

func newFixture(t *testing.T, minutes int) *fixture {
	t.Helper()

	doc := &models.InterviewSession{
		SessionID:     "sess-1",
		UserID:        "user-1",
		AgentIdentity: "strict-engineering-manager",
		Questions:     []models.Question{{Text: "Tell me about yourself."}, {Text: "Why this role?"}},
		Status:        models.SessionNotStarted,
	}

	active := &credits.ActiveSignal{}
	state := credits.NewState(active)
	state.SetInitial(minutes, 0)
	store := &fakeStore{minutes: minutes}
	guard := credits.NewSyncGuard(state, active, store, "user-1", nil)
	meter := credits.NewMeter(state, active, guard, nil,
		credits.WithTick(time.Hour), credits.WithLockWindow(40*time.Millisecond))

	log := &callLog{}
	fv := &fakeVoice{log: log, connect: true}
	fs := &fakeSpeech{log: log}
	sessions := newFakeSessions(doc)
	convos := &fakeConvos{}
	analysis := &fakeAnalysis{done: make(chan string, 1)}

	ctrl := NewController(doc, Deps{
		State:    state,
		Meter:    meter,
		Voice:    fv,
		Speech:   fs,
		Sessions: sessions,
		Convos:   convos,
		Analysis: analysis,
	})
	return &fixture{ctrl: ctrl, state: state, meter: meter, voice: fv, speech: fs, sessions: sessions, convos: convos, analysis: analysis, log: log}
}

func TestControllerStartReachesActive(t *testing.T) {
	f := newFixture(t, 10)

	require.NoError(t, f.ctrl.Start(context.Background()))

	assert.Equal(t, StatusActive, f.ctrl.Status())
	assert.True(t, f.meter.Running())
	assert.False(t, f.ctrl.Degraded())
	f.meter.Stop()
}

func TestControllerStartWithoutCredit(t *testing.T) {
	f := newFixture(t, 0)

	err := f.ctrl.Start(context.Background())
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeInsufficientCredit))
	assert.Equal(t, StatusIdle, f.ctrl.Status())
}

func TestControllerStartTwiceConflicts(t *testing.T) {
	f := newFixture(t, 10)

	require.NoError(t, f.ctrl.Start(context.Background()))
	err := f.ctrl.Start(context.Background())
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeConflict))
	f.meter.Stop()
}

func TestControllerTurnTaking(t *testing.T) {
	f := newFixture(t, 10)
	require.NoError(t, f.ctrl.Start(context.Background()))

	f.voice.h.OnAgentStartedSpeaking()
	assert.Equal(t, TurnAgent, f.ctrl.Turn())

	f.voice.h.OnAgentStoppedSpeaking()
	assert.Equal(t, TurnUser, f.ctrl.Turn())

	calls := f.log.snapshot()
	assert.Contains(t, calls, "speech.stop")
	assert.Contains(t, calls, "speech.start")
	f.meter.Stop()
}

func TestControllerPauseTeardownOrder(t *testing.T) {
	f := newFixture(t, 10)
	require.NoError(t, f.ctrl.Start(context.Background()))
	f.ctrl.SetAutoResume(true)

	require.NoError(t, f.ctrl.Pause(context.Background()))

	assert.Equal(t, StatusPaused, f.ctrl.Status())
	assert.False(t, f.meter.Running())
	assert.True(t, f.state.Locked())
	assert.False(t, f.ctrl.AutoResume())

	calls := f.log.snapshot()
	var order []string
	for _, c := range calls {
		switch c {
		case "speech.stop", "voice.interrupt", "voice.stop":
			order = append(order, c)
		}
	}
	require.NotEmpty(t, order)
	assert.Equal(t, []string{"speech.stop", "voice.interrupt", "voice.stop"}, order[len(order)-3:])

	require.Len(t, f.sessions.snapshots, 1)
	assert.Equal(t, models.SessionPaused, f.sessions.snapshots[0])
}

func TestControllerPauseWhenIdleConflicts(t *testing.T) {
	f := newFixture(t, 10)

	err := f.ctrl.Pause(context.Background())
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeConflict))
}

func TestControllerResumeRestoresSnapshot(t *testing.T) {
	f := newFixture(t, 10)
	require.NoError(t, f.ctrl.Start(context.Background()))

	f.ctrl.RecordUserTurn("I led the migration to event sourcing.")
	f.ctrl.AdvanceQuestion()
	require.NoError(t, f.ctrl.Pause(context.Background()))

	require.NoError(t, f.ctrl.Resume(context.Background()))
	assert.Equal(t, StatusActive, f.ctrl.Status())

	_, idx := f.ctrl.CurrentQuestion()
	assert.Equal(t, 1, idx)
	f.meter.Stop()
}

func TestControllerFinishCompletesAndAnalyzes(t *testing.T) {
	f := newFixture(t, 10)
	require.NoError(t, f.ctrl.Start(context.Background()))
	f.ctrl.RecordUserTurn("My biggest weakness is estimating.")
	f.ctrl.RecordAgentTurn("Tell me more about that.")

	require.NoError(t, f.ctrl.Finish(context.Background()))
	assert.Equal(t, StatusFinished, f.ctrl.Status())

	doc, err := f.sessions.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, doc.Status)

	select {
	case id := <-f.analysis.done:
		assert.Equal(t, "sess-1", id)
	case <-time.After(time.Second):
		t.Fatal("analysis was never kicked off")
	}

	// Finished is terminal and a second finish is a quiet no-op.
	require.NoError(t, f.ctrl.Finish(context.Background()))
	err = f.ctrl.Resume(context.Background())
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeConflict))
}

func TestControllerVoiceFailureFallsBackToText(t *testing.T) {
	f := newFixture(t, 10)
	f.voice.startErr = errors.New("vendor unreachable")

	require.NoError(t, f.ctrl.Start(context.Background()))

	assert.Equal(t, StatusActive, f.ctrl.Status())
	assert.True(t, f.ctrl.Degraded())
	assert.True(t, f.meter.Running())
	f.meter.Stop()
}

func TestControllerTranscriptsLandInHistoryAndLog(t *testing.T) {
	f := newFixture(t, 10)
	require.NoError(t, f.ctrl.Start(context.Background()))

	f.voice.h.OnTranscript(voice.RoleAgent, "Walk me through your resume.")
	f.speech.h.OnResult("Sure, I started out in QA.", true)
	f.speech.h.OnResult("partial fragment", false)

	f.convos.mu.Lock()
	rows := append([]models.ConversationLog(nil), f.convos.rows...)
	f.convos.mu.Unlock()
	require.Len(t, rows, 2)
	assert.Equal(t, "agent", rows[0].Speaker)
	assert.Equal(t, "user", rows[1].Speaker)

	require.NoError(t, f.ctrl.Pause(context.Background()))
	doc, err := f.sessions.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, doc.History, 2)
}

func TestControllerForcesFinishWhenCreditGoneBeforeConnect(t *testing.T) {
	f := newFixture(t, 1)
	f.voice.connect = false

	require.NoError(t, f.ctrl.Start(context.Background()))
	assert.Equal(t, StatusConnecting, f.ctrl.Status())

	// Balance drains to zero while the vendor handshake is in flight.
	f.state.DeductCredits(60)
	f.voice.h.OnConnected()

	assert.Equal(t, StatusFinished, f.ctrl.Status())
	assert.False(t, f.meter.Running())
}

func TestControllerAdvanceQuestionClamps(t *testing.T) {
	f := newFixture(t, 10)

	assert.Equal(t, 1, f.ctrl.AdvanceQuestion())
	assert.Equal(t, 1, f.ctrl.AdvanceQuestion())
	q, idx := f.ctrl.CurrentQuestion()
	assert.Equal(t, 1, idx)
	assert.Equal(t, "Why this role?", q.Text)
}
