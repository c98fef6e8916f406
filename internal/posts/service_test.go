package posts

import (
	"context"
	"errors"
	"testing"
	"time"

	"backend-yatube/internal/cache"
	"backend-yatube/internal/shared/form"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/redis/go-redis/v9"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func postColumns() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "text", "pub_date", "author_id", "username", "group_id", "group_slug", "group_title", "image"})
}

func countRows(n int) *pgxmock.Rows {
	return pgxmock.NewRows([]string{"count"}).AddRow(n)
}

type recordingNotifier struct {
	posts []Post
}

func (r *recordingNotifier) PostCreated(_ context.Context, p Post) {
	r.posts = append(r.posts, p)
}

func TestListAllFirstPage(t *testing.T) {
	mock := newMock(t)
	now := time.Now()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM posts p$`).
		WillReturnRows(countRows(2))
	mock.ExpectQuery(`ORDER BY p.pub_date DESC, p.id DESC LIMIT \$1 OFFSET \$2`).
		WithArgs(PerPage, 0).
		WillReturnRows(postColumns().
			AddRow(int64(2), "newer", now, "user-1", "leo", int64(0), "", "", "").
			AddRow(int64(1), "older", now.Add(-time.Hour), "user-1", "leo", int64(3), "cats", "Cats", "posts/a.png"))

	page, err := NewService(mock, nil, nil).List(context.Background(), All(), "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Number != 1 || page.NumPages != 1 || page.Count != 2 || page.HasNext {
		t.Fatalf("unexpected page meta %+v", page)
	}
	if len(page.Items) != 2 || page.Items[0].Text != "newer" {
		t.Fatalf("expected newest first: %+v", page.Items)
	}
	if page.Items[1].GroupSlug != "cats" || page.Items[1].Image != "posts/a.png" {
		t.Fatalf("group and image not scanned: %+v", page.Items[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListClampsToLastPage(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM posts p WHERE p.author_id = \$1`).
		WithArgs("user-1").
		WillReturnRows(countRows(25))
	mock.ExpectQuery(`WHERE p.author_id = \$1 ORDER BY p.pub_date DESC, p.id DESC LIMIT \$2 OFFSET \$3`).
		WithArgs("user-1", PerPage, 20).
		WillReturnRows(postColumns())

	page, err := NewService(mock, nil, nil).List(context.Background(), ByAuthor("user-1"), "99")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Number != 3 || page.NumPages != 3 || !page.HasPrevious || page.HasNext {
		t.Fatalf("unexpected page %+v", page)
	}
	if page.Items == nil {
		t.Fatalf("items must not be nil")
	}
}

func TestListFollowedBy(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`FROM posts p WHERE p.author_id IN \(SELECT author_id FROM follows WHERE user_id = \$1\)`).
		WithArgs("reader").
		WillReturnRows(countRows(1))
	mock.ExpectQuery(`WHERE p.author_id IN \(SELECT author_id FROM follows WHERE user_id = \$1\) ORDER BY`).
		WithArgs("reader", PerPage, 0).
		WillReturnRows(postColumns().AddRow(int64(9), "first", time.Now(), "writer", "bob", int64(0), "", "", ""))

	page, err := NewService(mock, nil, nil).List(context.Background(), FollowedBy("reader"), "1")
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Author != "bob" || page.Items[0].Text != "first" {
		t.Fatalf("unexpected feed %+v", page.Items)
	}
}

func TestListEmptySkipsSlice(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`FROM posts p WHERE p.group_id = \$1`).
		WithArgs(int64(4)).
		WillReturnRows(countRows(0))

	page, err := NewService(mock, nil, nil).List(context.Background(), InGroup(4), "abc")
	if err != nil || page.Number != 1 || len(page.Items) != 0 {
		t.Fatalf("empty list: %+v %v", page, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListCountError(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`SELECT COUNT`).WillReturnError(errDB)
	if _, err := NewService(mock, nil, nil).List(context.Background(), All(), "1"); !errors.Is(err, errDB) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestGetPost(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`WHERE p.id = \$1 AND u.username = \$2`).
		WithArgs(int64(5), "leo").
		WillReturnRows(postColumns().AddRow(int64(5), "hello", time.Now(), "user-1", "leo", int64(0), "", "", ""))
	mock.ExpectQuery(`WHERE p.id = \$1 AND u.username = \$2`).
		WithArgs(int64(5), "bob").
		WillReturnError(pgx.ErrNoRows)

	svc := NewService(mock, nil, nil)
	p, err := svc.GetPost(context.Background(), "leo", 5)
	if err != nil || p.ID != 5 || p.AuthorID != "user-1" {
		t.Fatalf("get post: %+v %v", p, err)
	}
	if _, err := svc.GetPost(context.Background(), "bob", 5); !errors.Is(err, ErrPostNotFound) {
		t.Fatalf("expected not found for other author, got %v", err)
	}
}

func TestCreatePostInvalidatesAndNotifies(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()
	index := cache.NewFragment(client, cache.IndexKey, time.Minute)
	_ = index.Set(context.Background(), "1", []byte("stale"))

	mock := newMock(t)
	pubDate := time.Now()
	mock.ExpectQuery(`INSERT INTO posts`).
		WithArgs("hello", "user-1", int64(0), "").
		WillReturnRows(pgxmock.NewRows([]string{"id", "pub_date"}).AddRow(int64(11), pubDate))

	svc := NewService(mock, index, nil)
	rec := &recordingNotifier{}
	svc.OnCreate(rec)

	p, err := svc.CreatePost(context.Background(), Post{Text: "hello", AuthorID: "user-1", Author: "leo"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.ID != 11 || !p.PubDate.Equal(pubDate) {
		t.Fatalf("id and pub_date must come from the database: %+v", p)
	}
	if s.Exists(cache.IndexKey) {
		t.Fatalf("index cache not invalidated")
	}
	if len(rec.posts) != 1 || rec.posts[0].ID != 11 {
		t.Fatalf("notifier not called: %+v", rec.posts)
	}
}

func TestCreatePostErrorSkipsNotifiers(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`INSERT INTO posts`).
		WithArgs("hello", "user-1", int64(2), "posts/x.png").
		WillReturnError(errDB)

	svc := NewService(mock, nil, nil)
	rec := &recordingNotifier{}
	svc.OnCreate(rec)
	if _, err := svc.CreatePost(context.Background(), Post{Text: "hello", AuthorID: "user-1", GroupID: 2, Image: "posts/x.png"}); !errors.Is(err, errDB) {
		t.Fatalf("expected db error, got %v", err)
	}
	if len(rec.posts) != 0 {
		t.Fatalf("notifier must not run on failure")
	}
}

func TestEditPostKeepsIdentity(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(`UPDATE posts SET text = \$1, group_id = NULLIF\(\$2, 0\), image = NULLIF\(\$3, ''\)`).
		WithArgs("edited", int64(0), "", int64(5), "user-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE posts`).
		WithArgs("edited", int64(0), "", int64(6), "user-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	svc := NewService(mock, nil, nil)
	pubDate := time.Now().Add(-time.Hour)
	p, err := svc.EditPost(context.Background(), Post{ID: 5, Text: "edited", AuthorID: "user-1", PubDate: pubDate})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if p.ID != 5 || p.AuthorID != "user-1" || !p.PubDate.Equal(pubDate) {
		t.Fatalf("identity changed: %+v", p)
	}
	if _, err := svc.EditPost(context.Background(), Post{ID: 6, Text: "edited", AuthorID: "user-1"}); !errors.Is(err, ErrPostNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestServiceAddComment(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`INSERT INTO comments`).
		WithArgs("nice", "user-2", int64(5)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created"}).AddRow(int64(1), time.Now()))

	svc := NewService(mock, nil, nil)
	c, err := svc.AddComment(context.Background(), Comment{Text: "nice", AuthorID: "user-2", PostID: 5})
	if err != nil || c.ID != 1 {
		t.Fatalf("add comment: %+v %v", c, err)
	}

	for _, text := range []string{"", "  \n\t"} {
		_, err = svc.AddComment(context.Background(), Comment{Text: text, AuthorID: "user-2", PostID: 5})
		if errs, ok := form.AsErrors(err); !ok || errs["text"] == "" {
			t.Fatalf("expected text error for %q, got %v", text, err)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestComments(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`FROM comments c`).
		WithArgs(int64(5)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "text", "created", "author_id", "username", "post_id"}).
			AddRow(int64(2), "second", time.Now(), "user-2", "bob", int64(5)).
			AddRow(int64(1), "first", time.Now().Add(-time.Minute), "user-1", "leo", int64(5)))

	comments, err := NewService(mock, nil, nil).Comments(context.Background(), 5)
	if err != nil || len(comments) != 2 || comments[0].Author != "bob" {
		t.Fatalf("comments: %+v %v", comments, err)
	}
}

func TestResolveGroup(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`FROM groups WHERE id = \$1`).
		WithArgs(int64(3)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "title", "slug", "description"}).AddRow(int64(3), "Cats", "cats", ""))
	mock.ExpectQuery(`FROM groups WHERE id = \$1`).
		WithArgs(int64(4)).
		WillReturnError(pgx.ErrNoRows)

	svc := NewService(mock, nil, nil)
	ctx := context.Background()

	if g, err := svc.ResolveGroup(ctx, ""); err != nil || g.ID != 0 {
		t.Fatalf("empty choice: %+v %v", g, err)
	}
	if g, err := svc.ResolveGroup(ctx, "3"); err != nil || g.Slug != "cats" {
		t.Fatalf("resolve: %+v %v", g, err)
	}
	if _, err := svc.ResolveGroup(ctx, "4"); err == nil {
		t.Fatalf("expected choice error")
	} else if errs, ok := form.AsErrors(err); !ok || errs["group"] == "" {
		t.Fatalf("expected group field error, got %v", err)
	}
	if _, err := svc.ResolveGroup(ctx, "x"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestGroupBySlug(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`FROM groups WHERE slug = \$1`).
		WithArgs("none").
		WillReturnError(pgx.ErrNoRows)

	if _, err := NewService(mock, nil, nil).GroupBySlug(context.Background(), "none"); !errors.Is(err, ErrGroupNotFound) {
		t.Fatalf("expected group not found, got %v", err)
	}
}

func TestCreateGroup(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`INSERT INTO groups`).
		WithArgs("Cats", "cats", "").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectQuery(`INSERT INTO groups`).
		WithArgs("Cats", "cats", "").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	svc := NewService(mock, nil, nil)
	ctx := context.Background()

	g, err := svc.CreateGroup(ctx, Group{Title: "Cats", Slug: "cats"})
	if err != nil || g.ID != 1 {
		t.Fatalf("create group: %+v %v", g, err)
	}
	if _, err := svc.CreateGroup(ctx, Group{Title: "Cats", Slug: "cats"}); !errors.Is(err, ErrGroupExists) {
		t.Fatalf("expected conflict, got %v", err)
	}
	_, err = svc.CreateGroup(ctx, Group{Title: "Cats", Slug: "not a slug"})
	if errs, ok := form.AsErrors(err); !ok || errs["slug"] == "" {
		t.Fatalf("expected slug error, got %v", err)
	}
}

func TestListGroups(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`FROM groups ORDER BY title`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "title", "slug", "description"}).AddRow(int64(1), "Cats", "cats", "meow"))

	groups, err := NewService(mock, nil, nil).ListGroups(context.Background())
	if err != nil || len(groups) != 1 || groups[0].Description != "meow" {
		t.Fatalf("list groups: %+v %v", groups, err)
	}
}

var errDB = errors.New("db down")
