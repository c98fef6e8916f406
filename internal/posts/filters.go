package posts

import (
	"context"
	"fmt"

	"backend-yatube/internal/db"
	"backend-yatube/internal/paginate"
)

// Filter narrows the post list; the zero value selects every post.
type Filter struct {
	where string
	arg   any
}

func All() Filter { return Filter{} }

func InGroup(groupID int64) Filter {
	return Filter{where: "p.group_id = $1", arg: groupID}
}

func ByAuthor(authorID string) Filter {
	return Filter{where: "p.author_id = $1", arg: authorID}
}

// FollowedBy selects posts whose authors userID follows.
func FollowedBy(userID string) Filter {
	return Filter{where: "p.author_id IN (SELECT author_id FROM follows WHERE user_id = $1)", arg: userID}
}

func (f Filter) clause() string {
	if f.where == "" {
		return ""
	}
	return " WHERE " + f.where
}

func (f Filter) args() []any {
	if f.where == "" {
		return nil
	}
	return []any{f.arg}
}

type listSource struct {
	db     db.Querier
	filter Filter
}

var _ paginate.Source[Post] = listSource{}

func (s listSource) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM posts p`+s.filter.clause(), s.filter.args()...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	return n, nil
}

func (s listSource) Slice(ctx context.Context, limit, offset int) ([]Post, error) {
	args := s.filter.args()
	n := len(args)
	query := selectPosts + s.filter.clause() +
		fmt.Sprintf(" ORDER BY p.pub_date DESC, p.id DESC LIMIT $%d OFFSET $%d", n+1, n+2)

	rows, err := s.db.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	var out []Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
