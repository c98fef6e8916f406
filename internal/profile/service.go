// Package profile aggregates the counters shown next to an author.
package profile

import (
	"context"
	"fmt"

	"backend-yatube/internal/db"
)

type Stats struct {
	PostCount      int  `json:"post_count"`
	FollowerCount  int  `json:"follower_count"`
	FollowingCount int  `json:"following_count"`
	Following      bool `json:"following"`
}

type Service struct {
	db db.Querier
}

func NewService(db db.Querier) *Service {
	return &Service{db: db}
}

// Aggregate counts the owner's posts and follow edges in both directions and
// reports whether viewerID follows the owner. An empty viewerID is anonymous.
func (s *Service) Aggregate(ctx context.Context, ownerID, viewerID string) (Stats, error) {
	var viewer any
	if viewerID != "" {
		viewer = viewerID
	}

	row := s.db.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM posts WHERE author_id = $1),
			(SELECT COUNT(*) FROM follows WHERE author_id = $1),
			(SELECT COUNT(*) FROM follows WHERE user_id = $1),
			EXISTS (SELECT 1 FROM follows WHERE user_id = $2 AND author_id = $1)
	`, ownerID, viewer)

	var st Stats
	if err := row.Scan(&st.PostCount, &st.FollowerCount, &st.FollowingCount, &st.Following); err != nil {
		return Stats{}, fmt.Errorf("aggregate profile: %w", err)
	}
	return st, nil
}
