package posts

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"backend-yatube/internal/cache"
	"backend-yatube/internal/db"
	"backend-yatube/internal/paginate"
	"backend-yatube/internal/shared/form"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
)

const PerPage = 10

var (
	ErrPostNotFound  = errors.New("post not found")
	ErrGroupNotFound = errors.New("group not found")
	ErrGroupExists   = errors.New("group with this slug already exists")
)

// Notifier is told about every created post after it is stored.
type Notifier interface {
	PostCreated(ctx context.Context, p Post)
}

const selectPosts = `
	SELECT p.id, p.text, p.pub_date, p.author_id, u.username,
	       COALESCE(p.group_id, 0), COALESCE(g.slug, ''), COALESCE(g.title, ''), COALESCE(p.image, '')
	FROM posts p
	JOIN users u ON u.id = p.author_id
	LEFT JOIN groups g ON g.id = p.group_id`

type Service struct {
	db        db.Querier
	index     *cache.Fragment
	log       logrus.FieldLogger
	notifiers []Notifier
}

func NewService(db db.Querier, index *cache.Fragment, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{db: db, index: index, log: log}
}

func (s *Service) OnCreate(n Notifier) {
	s.notifiers = append(s.notifiers, n)
}

// Index exposes the fragment cache for the index page.
func (s *Service) Index() *cache.Fragment {
	return s.index
}

func (s *Service) List(ctx context.Context, f Filter, rawPage string) (paginate.Page[Post], error) {
	return paginate.Fetch[Post](ctx, listSource{db: s.db, filter: f}, rawPage, PerPage)
}

// GetPost loads a post only when it belongs to the named author.
func (s *Service) GetPost(ctx context.Context, username string, id int64) (Post, error) {
	row := s.db.QueryRow(ctx, selectPosts+` WHERE p.id = $1 AND u.username = $2`, id, username)
	p, err := scanPost(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Post{}, ErrPostNotFound
		}
		return Post{}, fmt.Errorf("get post: %w", err)
	}
	return p, nil
}

// ResolveGroup turns the raw form choice into a group; empty means none.
func (s *Service) ResolveGroup(ctx context.Context, raw string) (Group, error) {
	if raw == "" {
		return Group{}, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return Group{}, form.Errors{"group": "Select a valid choice."}
	}
	g, err := s.groupByID(ctx, id)
	if errors.Is(err, ErrGroupNotFound) {
		return Group{}, form.Errors{"group": "Select a valid choice. That choice is not one of the available choices."}
	}
	return g, err
}

// CreatePost stores p, drops the cached index and notifies subscribers.
// PubDate and ID are assigned by the database.
func (s *Service) CreatePost(ctx context.Context, p Post) (Post, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO posts (text, author_id, group_id, image)
		VALUES ($1, $2, NULLIF($3, 0), NULLIF($4, ''))
		RETURNING id, pub_date
	`, p.Text, p.AuthorID, p.GroupID, p.Image)
	if err := row.Scan(&p.ID, &p.PubDate); err != nil {
		return Post{}, fmt.Errorf("create post: %w", err)
	}

	s.invalidateIndex(ctx)
	for _, n := range s.notifiers {
		n.PostCreated(ctx, p)
	}
	return p, nil
}

// EditPost rewrites text, group and image of an existing post. ID, author and
// pub_date never change.
func (s *Service) EditPost(ctx context.Context, p Post) (Post, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE posts SET text = $1, group_id = NULLIF($2, 0), image = NULLIF($3, '')
		WHERE id = $4 AND author_id = $5
	`, p.Text, p.GroupID, p.Image, p.ID, p.AuthorID)
	if err != nil {
		return Post{}, fmt.Errorf("edit post: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Post{}, ErrPostNotFound
	}

	s.invalidateIndex(ctx)
	return p, nil
}

func (s *Service) AddComment(ctx context.Context, c Comment) (Comment, error) {
	c.Text = strings.TrimSpace(c.Text)
	if errs := form.Validate(CommentForm{Text: c.Text}); errs != nil {
		return Comment{}, errs
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO comments (text, author_id, post_id)
		VALUES ($1, $2, $3)
		RETURNING id, created
	`, c.Text, c.AuthorID, c.PostID)
	if err := row.Scan(&c.ID, &c.Created); err != nil {
		return Comment{}, fmt.Errorf("add comment: %w", err)
	}
	return c, nil
}

func (s *Service) Comments(ctx context.Context, postID int64) ([]Comment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT c.id, c.text, c.created, c.author_id, u.username, c.post_id
		FROM comments c
		JOIN users u ON u.id = c.author_id
		WHERE c.post_id = $1
		ORDER BY c.created DESC, c.id DESC
	`, postID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	out := []Comment{}
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.Text, &c.Created, &c.AuthorID, &c.Author, &c.PostID); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Service) GroupBySlug(ctx context.Context, slug string) (Group, error) {
	return s.scanGroup(s.db.QueryRow(ctx, `SELECT id, title, slug, description FROM groups WHERE slug = $1`, slug))
}

func (s *Service) groupByID(ctx context.Context, id int64) (Group, error) {
	return s.scanGroup(s.db.QueryRow(ctx, `SELECT id, title, slug, description FROM groups WHERE id = $1`, id))
}

func (s *Service) scanGroup(row pgx.Row) (Group, error) {
	var g Group
	if err := row.Scan(&g.ID, &g.Title, &g.Slug, &g.Description); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Group{}, ErrGroupNotFound
		}
		return Group{}, fmt.Errorf("get group: %w", err)
	}
	return g, nil
}

func (s *Service) ListGroups(ctx context.Context) ([]Group, error) {
	rows, err := s.db.Query(ctx, `SELECT id, title, slug, description FROM groups ORDER BY title, id`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	out := []Group{}
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Title, &g.Slug, &g.Description); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Service) CreateGroup(ctx context.Context, g Group) (Group, error) {
	if errs := form.Validate(g); errs != nil {
		return Group{}, errs
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO groups (title, slug, description)
		VALUES ($1, $2, $3)
		RETURNING id
	`, g.Title, g.Slug, g.Description)
	if err := row.Scan(&g.ID); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Group{}, ErrGroupExists
		}
		return Group{}, fmt.Errorf("create group: %w", err)
	}
	return g, nil
}

func (s *Service) invalidateIndex(ctx context.Context) {
	if err := s.index.Invalidate(ctx); err != nil {
		s.log.WithError(err).Warn("index cache invalidation failed")
	}
}

func scanPost(row pgx.Row) (Post, error) {
	var p Post
	err := row.Scan(&p.ID, &p.Text, &p.PubDate, &p.AuthorID, &p.Author,
		&p.GroupID, &p.GroupSlug, &p.GroupTitle, &p.Image)
	return p, err
}
