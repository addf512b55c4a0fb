package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"redlight/internal/catalog/repository"
	pkgerrors "redlight/pkg/errors"
)

// QuestionService serves the read-only question catalog.
type QuestionService struct {
	repo repository.QuestionRepository
}

// NewQuestionService creates a new QuestionService.
func NewQuestionService(repo repository.QuestionRepository) *QuestionService {
	return &QuestionService{repo: repo}
}

// List returns every published question.
func (s *QuestionService) List(ctx context.Context) ([]repository.Question, error) {
	list, err := s.repo.ListPublished(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(fmt.Errorf("list questions failed: %w", err), pkgerrors.DatabaseError)
	}
	return list, nil
}

// Get returns a published question; unpublished and missing questions look the same.
func (s *QuestionService) Get(ctx context.Context, id string) (repository.Question, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return repository.Question{}, pkgerrors.New(pkgerrors.InvalidParams)
	}
	q, err := s.repo.GetPublished(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrQuestionNotFound) {
			return repository.Question{}, pkgerrors.New(pkgerrors.QuestionNotFound)
		}
		return repository.Question{}, pkgerrors.Wrap(fmt.Errorf("get question failed: %w", err), pkgerrors.DatabaseError)
	}
	return q, nil
}
