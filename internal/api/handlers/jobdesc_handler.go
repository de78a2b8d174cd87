package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jastalk/jastalk/internal/services"
	"github.com/jastalk/jastalk/internal/utils"
)

type JobDescriptionHandler struct {
	jobdescs  services.JobDescriptionService
	questions services.QuestionService
}

func NewJobDescriptionHandler(jobdescs services.JobDescriptionService, questions services.QuestionService) *JobDescriptionHandler {
	return &JobDescriptionHandler{jobdescs: jobdescs, questions: questions}
}

const maxJobDescFileBytes = 10 << 20

// Upload accepts a job description as multipart form data: a required
// raw_text field plus an optional source file kept in object storage.
func (h *JobDescriptionHandler) Upload(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	title := c.PostForm("title")
	rawText := c.PostForm("raw_text")
	if rawText == "" {
		writeError(c, utils.E(utils.CodeInvalidArgument, "JobDescriptionHandler.Upload", "raw_text is required", nil))
		return
	}

	fileName, mimeType, objectName := "", "", ""
	fileSize := 0
	var reader io.Reader

	if fh, err := c.FormFile("file"); err == nil && fh != nil {
		if fh.Size > maxJobDescFileBytes {
			writeError(c, utils.E(utils.CodeInvalidArgument, "JobDescriptionHandler.Upload", "file too large", nil))
			return
		}
		f, err := fh.Open()
		if err != nil {
			writeError(c, utils.E(utils.CodeInternal, "JobDescriptionHandler.Upload", "failed to read file", err))
			return
		}
		defer f.Close()

		reader = f
		fileName = fh.Filename
		fileSize = int(fh.Size)
		mimeType = fh.Header.Get("Content-Type")
		objectName = "jobdescriptions/" + userID + "/" + uuid.NewString() + "-" + fh.Filename
	}

	jd, err := h.jobdescs.Upload(c.Request.Context(), userID, title, fileName, fileSize, mimeType, objectName, rawText, reader)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, jd)
}

func (h *JobDescriptionHandler) Get(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	jd, err := h.jobdescs.Get(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, jd)
}

func (h *JobDescriptionHandler) List(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	limit := 20
	if s := c.Query("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	rows, err := h.jobdescs.List(c.Request.Context(), userID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_descriptions": rows})
}

type GenerateQuestionsRequest struct {
	Count int `json:"count"`
}

// GenerateQuestions produces an interview question set from a stored
// job description. Fixed credit cost per run.
func (h *JobDescriptionHandler) GenerateQuestions(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	// Body is optional; count falls back to the service default.
	var req GenerateQuestionsRequest
	_ = c.ShouldBindJSON(&req)

	jd, err := h.jobdescs.Get(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	questions, err := h.questions.Generate(c.Request.Context(), userID, jd, req.Count)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"questions": questions})
}
