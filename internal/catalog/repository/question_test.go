package repository_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"redlight/internal/catalog/repository"
	"redlight/internal/common/cache"
	"redlight/internal/common/db"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeQuestionDB struct {
	questions map[string]repository.Question
	queries   int
}

func (f *fakeQuestionDB) Query(ctx context.Context, query string, args ...interface{}) (db.Rows, error) {
	f.queries++
	rows := &questionRows{}
	for _, id := range []string{"q1", "q2", "q3"} {
		if q, ok := f.questions[id]; ok && q.IsPublished {
			rows.items = append(rows.items, q)
		}
	}
	return rows, nil
}

func (f *fakeQuestionDB) QueryRow(ctx context.Context, query string, args ...interface{}) db.Row {
	f.queries++
	q, ok := f.questions[args[0].(string)]
	if !ok || !q.IsPublished {
		return questionRow{err: sql.ErrNoRows}
	}
	return questionRow{q: q, withSolution: strings.Contains(query, "reference_solution")}
}

func (f *fakeQuestionDB) Exec(ctx context.Context, query string, args ...interface{}) (db.Result, error) {
	return nil, errors.New("read only")
}



type questionRow struct {
	q            repository.Question
	withSolution bool
	err          error
}

func (r questionRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	values := []interface{}{r.q.ID, r.q.Name, r.q.Body}
	if r.withSolution {
		values = append(values, r.q.ReferenceSolution)
	}
	values = append(values, r.q.UpdatedAt)
	return scanInto(dest, values)
}

type questionRows struct {
	items []repository.Question
	pos   int
}

func (r *questionRows) Next() bool {
	r.pos++
	return r.pos <= len(r.items)
}

func (r *questionRows) Scan(dest ...interface{}) error {
	q := r.items[r.pos-1]
	return scanInto(dest, []interface{}{q.ID, q.Name, q.Body, q.UpdatedAt})
}

func (r *questionRows) Close() error { return nil }
func (r *questionRows) Err() error   { return nil }

func scanInto(dest, values []interface{}) error {
	if len(dest) != len(values) {
		return fmt.Errorf("expected %d columns, got %d", len(values), len(dest))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = values[i].(string)
		case *time.Time:
			*p = values[i].(time.Time)
		default:
			return fmt.Errorf("unsupported scan target %T", d)
		}
	}
	return nil
}

func newQuestionRepo(t *testing.T) (*repository.MySQLQuestionRepository, *fakeQuestionDB, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("create cache failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	updated := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	fake := &fakeQuestionDB{questions: map[string]repository.Question{
		"q1": {ID: "q1", Name: "Sum", Body: "Add two numbers", ReferenceSolution: "int main(){}", IsPublished: true, UpdatedAt: updated},
		"q2": {ID: "q2", Name: "Draft", Body: "Hidden", IsPublished: false, UpdatedAt: updated},
		"q3": {ID: "q3", Name: "Reverse", Body: "Reverse a string", IsPublished: true, UpdatedAt: updated},
	}}
	return repository.NewQuestionRepository(fake, c), fake, mr
}

func TestGetPublishedIsCached(t *testing.T) {
	repo, fake, _ := newQuestionRepo(t)

	for i := 0; i < 3; i++ {
		q, err := repo.GetPublished(context.Background(), "q1")
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if q.ReferenceSolution != "int main(){}" {
			t.Fatalf("unexpected question %+v", q)
		}
	}
	if fake.queries != 1 {
		t.Fatalf("expected one database query, got %d", fake.queries)
	}
}

func TestGetUnpublishedIsNotFoundAndNegativelyCached(t *testing.T) {
	repo, fake, mr := newQuestionRepo(t)

	for i := 0; i < 2; i++ {
		if _, err := repo.GetPublished(context.Background(), "q2"); !errors.Is(err, repository.ErrQuestionNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	}
	if fake.queries != 1 {
		t.Fatalf("expected one database query, got %d", fake.queries)
	}
	if got, _ := mr.Get("question:q2"); got != cache.NullCacheValue {
		t.Fatalf("expected null marker, got %q", got)
	}
}

func TestListPublishedOmitsDrafts(t *testing.T) {
	repo, fake, _ := newQuestionRepo(t)

	list, err := repo.ListPublished(context.Background())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != "q1" || list[1].ID != "q3" {
		t.Fatalf("unexpected list %+v", list)
	}
	if list[0].ReferenceSolution != "" {
		t.Fatalf("listing leaked a reference solution")
	}
	if _, err := repo.ListPublished(context.Background()); err != nil {
		t.Fatalf("second list failed: %v", err)
	}
	if fake.queries != 1 {
		t.Fatalf("expected cached listing, got %d queries", fake.queries)
	}
}
