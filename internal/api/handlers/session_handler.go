package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jastalk/jastalk/internal/interview"
	"github.com/jastalk/jastalk/internal/models"
	"github.com/jastalk/jastalk/internal/services"
	"github.com/jastalk/jastalk/internal/utils"
)

type SessionHandler struct {
	sessions  services.SessionService
	questions services.QuestionService
	jobdescs  services.JobDescriptionService
	manager   *interview.Manager
}

func NewSessionHandler(sessions services.SessionService, questions services.QuestionService, jobdescs services.JobDescriptionService, manager *interview.Manager) *SessionHandler {
	return &SessionHandler{sessions: sessions, questions: questions, jobdescs: jobdescs, manager: manager}
}

type CreateSessionRequest struct {
	AgentIdentity string `json:"agent_identity" binding:"required"`

	// Either an explicit question set or a job description to generate
	// questions from.
	Questions        []models.Question `json:"questions"`
	JobDescriptionID string            `json:"job_description_id"`
	QuestionCount    int               `json:"question_count"`
}

type CreateSessionResponse struct {
	SessionID string            `json:"session_id"`
	Status    string            `json:"status"`
	Questions []models.Question `json:"questions"`
	CreatedAt string            `json:"created_at"`
}

func (h *SessionHandler) Create(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "SessionHandler.Create", "invalid request body", err))
		return
	}

	questions := req.Questions
	if len(questions) == 0 {
		if req.JobDescriptionID == "" {
			writeError(c, utils.E(utils.CodeInvalidArgument, "SessionHandler.Create", "questions or job_description_id required", nil))
			return
		}
		jd, err := h.jobdescs.Get(c.Request.Context(), userID, req.JobDescriptionID)
		if err != nil {
			writeError(c, err)
			return
		}
		questions, err = h.questions.Generate(c.Request.Context(), userID, jd, req.QuestionCount)
		if err != nil {
			writeError(c, err)
			return
		}
	}

	sess, err := h.sessions.Create(c.Request.Context(), userID, req.AgentIdentity, questions)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, CreateSessionResponse{
		SessionID: sess.SessionID,
		Status:    string(sess.Status),
		Questions: sess.Questions,
		CreatedAt: sess.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

func (h *SessionHandler) Get(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	sessionID := c.Param("session_id")
	sess, err := h.sessions.Get(c.Request.Context(), sessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	if sess.UserID != userID {
		writeError(c, utils.E(utils.CodeForbidden, "SessionHandler.Get", "forbidden", nil))
		return
	}

	c.JSON(http.StatusOK, sess)
}

type SessionStateResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Turn      string `json:"turn,omitempty"`
	Degraded  bool   `json:"degraded,omitempty"`
}

func (h *SessionHandler) Start(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	sessionID := c.Param("session_id")

	ctrl, err := h.manager.Open(c.Request.Context(), userID, sessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := ctrl.Start(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	h.writeState(c, ctrl)
}

func (h *SessionHandler) Pause(c *gin.Context) {
	ctrl, ok := h.requireController(c)
	if !ok {
		return
	}
	if err := ctrl.Pause(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	h.writeState(c, ctrl)
}

func (h *SessionHandler) Resume(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	sessionID := c.Param("session_id")

	// Reopen handles the process that paused as well as a fresh one.
	ctrl, err := h.manager.Open(c.Request.Context(), userID, sessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	ctrl.SetAutoResume(true)
	if err := ctrl.Resume(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	h.writeState(c, ctrl)
}

func (h *SessionHandler) Finish(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	ctrl, found := h.manager.Controller(userID)
	if !found || ctrl.SessionID() != c.Param("session_id") {
		writeError(c, utils.E(utils.CodeNotFound, "SessionHandler.Finish", "no live interview for this session", nil))
		return
	}
	if err := ctrl.Finish(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	h.manager.Release(userID)
	h.writeState(c, ctrl)
}

func (h *SessionHandler) requireController(c *gin.Context) (*interview.Controller, bool) {
	userID, ok := requireUserID(c)
	if !ok {
		return nil, false
	}
	ctrl, found := h.manager.Controller(userID)
	if !found || ctrl.SessionID() != c.Param("session_id") {
		writeError(c, utils.E(utils.CodeNotFound, "SessionHandler", "no live interview for this session", nil))
		return nil, false
	}
	return ctrl, true
}

func (h *SessionHandler) writeState(c *gin.Context, ctrl *interview.Controller) {
	c.JSON(http.StatusOK, SessionStateResponse{
		SessionID: ctrl.SessionID(),
		Status:    string(ctrl.Status()),
		Turn:      string(ctrl.Turn()),
		Degraded:  ctrl.Degraded(),
	})
}
