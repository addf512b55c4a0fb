package controller

import (
	"time"

	"redlight/internal/catalog/repository"
	"redlight/internal/catalog/service"
	"redlight/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// QuestionController handles question catalog endpoints.
type QuestionController struct {
	questions *service.QuestionService
}

// NewQuestionController creates a new QuestionController.
func NewQuestionController(questions *service.QuestionService) *QuestionController {
	return &QuestionController{questions: questions}
}

// List handles the published question listing.
func (h *QuestionController) List(c *gin.Context) {
	list, err := h.questions.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	items := make([]QuestionSummary, 0, len(list))
	for _, q := range list {
		items = append(items, QuestionSummary{ID: q.ID, Name: q.Name, Body: q.Body})
	}
	response.Success(c, items)
}

// Get handles a single question lookup.
func (h *QuestionController) Get(c *gin.Context) {
	q, err := h.questions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, newQuestionDetail(q))
}

// QuestionSummary defines a listed question.
type QuestionSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Body string `json:"body"`
}

// QuestionDetail defines a single question with its reference solution.
type QuestionDetail struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Body              string `json:"body"`
	ReferenceSolution string `json:"reference_solution"`
	UpdatedAt         string `json:"updated_at"`
}

func newQuestionDetail(q repository.Question) QuestionDetail {
	return QuestionDetail{
		ID:                q.ID,
		Name:              q.Name,
		Body:              q.Body,
		ReferenceSolution: q.ReferenceSolution,
		UpdatedAt:         q.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
