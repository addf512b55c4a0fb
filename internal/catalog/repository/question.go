package repository

import (
	"context"
	"errors"
	"time"

	"redlight/internal/common/cache"
	"redlight/internal/common/db"
)

const (
	defaultQuestionTTL      = 30 * time.Minute
	defaultQuestionEmptyTTL = 5 * time.Minute

	questionKeyPrefix = "question:"
	questionListKey   = "question:list"
)

var ErrQuestionNotFound = errors.New("question not found")

// Question is one assessment problem.
type Question struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Body              string    `json:"body"`
	ReferenceSolution string    `json:"reference_solution,omitempty"`
	IsPublished       bool      `json:"is_published"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// QuestionRepository reads published questions.
type QuestionRepository interface {
	ListPublished(ctx context.Context) ([]Question, error)
	GetPublished(ctx context.Context, id string) (Question, error)
}

// MySQLQuestionRepository reads questions from MySQL behind a cache-aside layer.
type MySQLQuestionRepository struct {
	db       db.Querier
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

func NewQuestionRepository(database db.Querier, cacheClient cache.Cache) *MySQLQuestionRepository {
	return NewQuestionRepositoryWithTTL(database, cacheClient, defaultQuestionTTL, defaultQuestionEmptyTTL)
}

func NewQuestionRepositoryWithTTL(database db.Querier, cacheClient cache.Cache, ttl, emptyTTL time.Duration) *MySQLQuestionRepository {
	if ttl <= 0 {
		ttl = defaultQuestionTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultQuestionEmptyTTL
	}
	return &MySQLQuestionRepository{
		db:       database,
		cache:    cacheClient,
		ttl:      ttl,
		emptyTTL: emptyTTL,
	}
}

// ListPublished returns published questions without their reference solutions.
func (r *MySQLQuestionRepository) ListPublished(ctx context.Context) ([]Question, error) {
	if r.cache == nil {
		return r.listFromDB(ctx)
	}
	reader := cache.ReadThrough[[]Question]{
		Cache:    r.cache,
		TTL:      r.ttl,
		EmptyTTL: r.emptyTTL,
		IsEmpty:  func(list []Question) bool { return len(list) == 0 },
	}
	return reader.Get(ctx, questionListKey, r.listFromDB)
}

// GetPublished returns one published question including its reference solution.
func (r *MySQLQuestionRepository) GetPublished(ctx context.Context, id string) (Question, error) {
	if r.cache == nil {
		return r.getFromDB(ctx, id)
	}
	reader := cache.ReadThrough[Question]{
		Cache:    r.cache,
		TTL:      r.ttl,
		EmptyTTL: r.emptyTTL,
		IsEmpty:  func(q Question) bool { return q.ID == "" },
	}
	q, err := reader.Get(ctx, questionKeyPrefix+id,
		func(ctx context.Context) (Question, error) {
			q, err := r.getFromDB(ctx, id)
			if errors.Is(err, ErrQuestionNotFound) {
				return Question{}, nil
			}
			return q, err
		},
	)
	if err != nil {
		return Question{}, err
	}
	if q.ID == "" {
		return Question{}, ErrQuestionNotFound
	}
	return q, nil
}

func (r *MySQLQuestionRepository) listFromDB(ctx context.Context) ([]Question, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, body, updated_at
		FROM questions
		WHERE is_published = 1
		ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var list []Question
	for rows.Next() {
		q := Question{IsPublished: true}
		if err := rows.Scan(&q.ID, &q.Name, &q.Body, &q.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (r *MySQLQuestionRepository) getFromDB(ctx context.Context, id string) (Question, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, body, reference_solution, updated_at
		FROM questions
		WHERE id = ? AND is_published = 1`, id)
	q := Question{IsPublished: true}
	if err := row.Scan(&q.ID, &q.Name, &q.Body, &q.ReferenceSolution, &q.UpdatedAt); err != nil {
		if db.IsNoRows(err) {
			return Question{}, ErrQuestionNotFound
		}
		return Question{}, err
	}
	return q, nil
}

var _ QuestionRepository = (*MySQLQuestionRepository)(nil)
