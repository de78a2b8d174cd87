package services

import (
	"context"
	"strings"

	"github.com/jastalk/jastalk/internal/models"
	"github.com/jastalk/jastalk/internal/providers/llm"
	"github.com/jastalk/jastalk/internal/utils"
)

type AnalysisService interface {
	// GenerateForSession produces a performance analysis from a
	// completed interview and stores it on the session.
	GenerateForSession(ctx context.Context, session *models.InterviewSession) (string, error)
}

type analysisService struct {
	llm      llm.Provider
	sessions SessionService
}

func NewAnalysisService(p llm.Provider, sessions SessionService) AnalysisService {
	return &analysisService{llm: p, sessions: sessions}
}

func (s *analysisService) GenerateForSession(ctx context.Context, session *models.InterviewSession) (string, error) {
	const op = "AnalysisService.GenerateForSession"

	if session == nil || session.SessionID == "" {
		return "", utils.E(utils.CodeInvalidArgument, op, "a session is required", nil)
	}
	if len(session.History) == 0 {
		return "", utils.E(utils.CodeInvalidArgument, op, "session has no conversation to analyze", nil)
	}

	answer, err := llm.FullAnswer(ctx, s.llm, buildAnalysisPrompt(session))
	if err != nil {
		return "", utils.E(utils.CodeUnavailable, op, "analysis generation failed", err)
	}
	if answer == "" {
		return "", utils.E(utils.CodeUnavailable, op, "analysis generation returned nothing", nil)
	}

	if err := s.sessions.SetAnalysis(ctx, session.SessionID, answer); err != nil {
		return "", err
	}
	return answer, nil
}

func buildAnalysisPrompt(session *models.InterviewSession) string {
	var b strings.Builder
	b.WriteString("You are an interview coach. Analyze the candidate's performance in the mock interview below.\n")
	b.WriteString("Cover strengths, weaknesses, and concrete suggestions. Be specific and cite their answers.\n\n")
	for _, turn := range session.History {
		b.WriteString("[")
		b.WriteString(strings.ToUpper(turn.Speaker))
		b.WriteString("] ")
		b.WriteString(turn.Text)
		b.WriteString("\n")
	}
	return b.String()
}
