package services

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jastalk/jastalk/internal/credits"
	"github.com/jastalk/jastalk/internal/ledger"
	"github.com/jastalk/jastalk/internal/models"
	"github.com/jastalk/jastalk/internal/providers/llm"
	pgrepo "github.com/jastalk/jastalk/internal/repositories/postgres"
	"github.com/jastalk/jastalk/internal/utils"
)

// QuestionGenerationCostSeconds is the fixed credit cost of one
// question-generation run.
const QuestionGenerationCostSeconds = 30

const defaultQuestionCount = 8

// CreditStateResolver hands back the live local credit state for a
// user, if one exists in this process. Implemented by the interview
// manager.
type CreditStateResolver interface {
	CreditState(userID string) *credits.State
}

type QuestionService interface {
	Generate(ctx context.Context, userID string, jd *models.JobDescription, count int) ([]models.Question, error)
}

type questionService struct {
	llm      llm.Provider
	store    ledger.Store
	states   CreditStateResolver
	jobdescs pgrepo.JobDescriptionRepo
	log      *logrus.Logger
}

func NewQuestionService(p llm.Provider, store ledger.Store, states CreditStateResolver, jobdescs pgrepo.JobDescriptionRepo, log *logrus.Logger) QuestionService {
	if log == nil {
		log = logrus.New()
	}
	return &questionService{llm: p, store: store, states: states, jobdescs: jobdescs, log: log}
}

func (s *questionService) Generate(ctx context.Context, userID string, jd *models.JobDescription, count int) ([]models.Question, error) {
	const op = "QuestionService.Generate"

	if userID == "" || jd == nil || strings.TrimSpace(jd.RawText) == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id and a job description with text are required", nil)
	}
	if count <= 0 {
		count = defaultQuestionCount
	}

	// Fixed-cost action: charge the ledger up front.
	if _, err := s.store.Deduct(ctx, userID, QuestionGenerationCostSeconds); err != nil {
		if errors.Is(err, ledger.ErrInsufficientCredits) {
			return nil, utils.E(utils.CodeInsufficientCredit, op, "not enough credit to generate questions", err)
		}
		// Ledger trouble never blocks the product flow; the local
		// deduction below keeps the in-process number honest.
		s.log.WithError(err).WithField("user_id", userID).Warn("ledger deduct failed, continuing")
	}
	if s.states != nil {
		if st := s.states.CreditState(userID); st != nil {
			st.DeductCredits(QuestionGenerationCostSeconds)
		}
	}

	answer, err := llm.FullAnswer(ctx, s.llm, buildQuestionPrompt(jd, count))
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "question generation failed", err)
	}

	questions := parseQuestions(answer, count)
	if len(questions) == 0 {
		return nil, utils.E(utils.CodeUnavailable, op, "question generation returned no usable questions", nil)
	}

	if topics := collectTopics(questions); len(topics) > 0 && s.jobdescs != nil {
		if err := s.jobdescs.SetTopics(ctx, jd.ID, topics); err != nil {
			s.log.WithError(err).WithField("job_description_id", jd.ID).Warn("failed to store extracted topics")
		}
	}

	return questions, nil
}

func buildQuestionPrompt(jd *models.JobDescription, count int) string {
	var b strings.Builder
	b.WriteString("You are an experienced interviewer preparing a mock interview.\n")
	b.WriteString("Write interview questions for the job description below.\n")
	b.WriteString("Output exactly one question per line, formatted as: question | topic\n")
	b.WriteString("No numbering, no extra commentary. Write ")
	b.WriteString(strconv.Itoa(count))
	b.WriteString(" questions.\n\nJob description:\n")
	b.WriteString(jd.RawText)
	return b.String()
}

func parseQuestions(answer string, max int) []models.Question {
	var out []models.Question
	for _, line := range strings.Split(answer, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*0123456789. ")
		if line == "" {
			continue
		}

		q := models.Question{Text: line}
		if i := strings.LastIndex(line, "|"); i >= 0 {
			q.Text = strings.TrimSpace(line[:i])
			q.Topic = strings.TrimSpace(line[i+1:])
		}
		if q.Text == "" {
			continue
		}

		out = append(out, q)
		if len(out) == max {
			break
		}
	}
	return out
}

func collectTopics(questions []models.Question) []string {
	seen := map[string]struct{}{}
	var topics []string
	for _, q := range questions {
		t := strings.ToLower(strings.TrimSpace(q.Topic))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		topics = append(topics, t)
	}
	return topics
}
