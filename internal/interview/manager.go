package interview

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jastalk/jastalk/internal/credits"
	"github.com/jastalk/jastalk/internal/providers/speech"
	"github.com/jastalk/jastalk/internal/providers/voice"
	"github.com/jastalk/jastalk/internal/services"
	"github.com/jastalk/jastalk/internal/utils"
)

// VoiceFactory opens a voice session for an interviewer identity.
type VoiceFactory func(agentIdentity string) voice.Session

// SpeechFactory opens a speech capture pipeline.
type SpeechFactory func() speech.Capture

// Manager owns the per-user credit machinery (one State, Meter, and
// SyncGuard per user, shared across that user's interviews) and the
// per-user interview controller. One live interview per user.
type Manager struct {
	log      *logrus.Logger
	store    credits.LedgerStore
	sessions services.SessionService
	convos   services.ConversationService
	analysis services.AnalysisService
	voice    VoiceFactory
	speech   SpeechFactory

	tick    time.Duration
	lockFor time.Duration

	mu          sync.Mutex
	users       map[string]*userCredits
	controllers map[string]*Controller
}

type userCredits struct {
	state  *credits.State
	active *credits.ActiveSignal
	meter  *credits.Meter
	guard  *credits.SyncGuard
}

type ManagerConfig struct {
	Log      *logrus.Logger
	Store    credits.LedgerStore
	Sessions services.SessionService
	Convos   services.ConversationService
	Analysis services.AnalysisService
	Voice    VoiceFactory
	Speech   SpeechFactory

	// Tick and LockFor default to one second and the standard
	// post-session lock when zero.
	Tick    time.Duration
	LockFor time.Duration
}

func NewManager(cfg ManagerConfig) *Manager {
	log := cfg.Log
	if log == nil {
		log = logrus.New()
	}
	tick := cfg.Tick
	if tick <= 0 {
		tick = time.Second
	}
	lockFor := cfg.LockFor
	if lockFor <= 0 {
		lockFor = credits.DefaultPostSessionLock
	}
	return &Manager{
		log:         log,
		store:       cfg.Store,
		sessions:    cfg.Sessions,
		convos:      cfg.Convos,
		analysis:    cfg.Analysis,
		voice:       cfg.Voice,
		speech:      cfg.Speech,
		tick:        tick,
		lockFor:     lockFor,
		users:       make(map[string]*userCredits),
		controllers: make(map[string]*Controller),
	}
}

// creditsFor returns the user's credit machinery, creating it on first
// use. The guard performs an initial ledger fetch so the local balance
// is seeded before anything reads it.
func (m *Manager) creditsFor(ctx context.Context, userID string) *userCredits {
	m.mu.Lock()
	uc, ok := m.users[userID]
	if !ok {
		active := &credits.ActiveSignal{}
		state := credits.NewState(active)
		guard := credits.NewSyncGuard(state, active, m.store, userID, m.log)
		uc = &userCredits{
			state:  state,
			active: active,
			meter: credits.NewMeter(state, active, guard, m.log,
				credits.WithTick(m.tick), credits.WithLockWindow(m.lockFor)),
			guard: guard,
		}
		m.users[userID] = uc
	}
	m.mu.Unlock()

	if !ok {
		if err := uc.guard.Refresh(ctx); err != nil {
			m.log.WithError(err).WithField("user_id", userID).Warn("initial credit refresh failed")
		}
	}
	return uc
}

// CreditState implements services.CreditStateResolver. It returns nil
// when the user has no credit machinery in this process yet; callers
// treat that as "nothing local to adjust".
func (m *Manager) CreditState(userID string) *credits.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if uc, ok := m.users[userID]; ok {
		return uc.state
	}
	return nil
}

// Guard returns the user's sync guard, creating the machinery if needed.
func (m *Manager) Guard(ctx context.Context, userID string) *credits.SyncGuard {
	return m.creditsFor(ctx, userID).guard
}

// State returns the user's live credit state, creating it if needed.
func (m *Manager) State(ctx context.Context, userID string) *credits.State {
	return m.creditsFor(ctx, userID).state
}

// Open loads a stored session and builds its controller. A user runs
// at most one interview at a time; a second open is rejected unless
// the first is finished. Reopening the same session returns the
// existing controller.
func (m *Manager) Open(ctx context.Context, userID, sessionID string) (*Controller, error) {
	const op = "Manager.Open"

	session, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, utils.E(utils.CodeForbidden, op, "session does not belong to this user", nil)
	}

	uc := m.creditsFor(ctx, userID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.controllers[userID]; ok {
		if existing.SessionID() == sessionID {
			return existing, nil
		}
		if existing.Status() != StatusFinished {
			return nil, utils.E(utils.CodeConflict, op, "another interview is already in progress", nil)
		}
	}

	ctrl := NewController(session, Deps{
		Log:      m.log,
		State:    uc.state,
		Meter:    uc.meter,
		Voice:    m.voice(session.AgentIdentity),
		Speech:   m.speech(),
		Sessions: m.sessions,
		Convos:   m.convos,
		Analysis: m.analysis,
	})
	m.controllers[userID] = ctrl
	return ctrl, nil
}

// Controller returns the user's current controller, if any.
func (m *Manager) Controller(userID string) (*Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctrl, ok := m.controllers[userID]
	return ctrl, ok
}

// Release drops the user's controller after an interview is over. The
// credit machinery stays; the post-session lock keeps protecting the
// local balance until it expires.
func (m *Manager) Release(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.controllers, userID)
}
