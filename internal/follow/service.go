// Package follow maintains the follower graph and the feed built from it.
package follow

import (
	"context"
	"errors"
	"fmt"

	"backend-yatube/internal/db"
	"backend-yatube/internal/paginate"
	"backend-yatube/internal/posts"
)

var (
	ErrSelfFollow = errors.New("cannot follow yourself")
	ErrNotFound   = errors.New("follow not found")
)

type Service struct {
	db    db.Querier
	posts *posts.Service
}

func NewService(db db.Querier, posts *posts.Service) *Service {
	return &Service{db: db, posts: posts}
}

// Follow creates the viewer -> target edge if it is missing and reports
// whether a new edge was written.
func (s *Service) Follow(ctx context.Context, viewerID, targetID string) (bool, error) {
	if viewerID == targetID {
		return false, ErrSelfFollow
	}
	tag, err := s.db.Exec(ctx, `
		INSERT INTO follows (user_id, author_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, author_id) DO NOTHING
	`, viewerID, targetID)
	if err != nil {
		return false, fmt.Errorf("follow: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Service) Unfollow(ctx context.Context, viewerID, targetID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM follows WHERE user_id = $1 AND author_id = $2`, viewerID, targetID)
	if err != nil {
		return fmt.Errorf("unfollow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Service) Feed(ctx context.Context, viewerID, rawPage string) (paginate.Page[posts.Post], error) {
	return s.posts.List(ctx, posts.FollowedBy(viewerID), rawPage)
}

func (s *Service) FollowerIDs(ctx context.Context, authorID string) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT user_id FROM follows WHERE author_id = $1`, authorID)
	if err != nil {
		return nil, fmt.Errorf("list followers: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
