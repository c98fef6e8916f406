package posts

import "time"

type Group struct {
	ID          int64  `json:"id"`
	Title       string `json:"title" form:"title" validate:"required,max=200"`
	Slug        string `json:"slug" form:"slug" validate:"required,max=200,slug"`
	Description string `json:"description" form:"description"`
}

type Post struct {
	ID         int64     `json:"id"`
	Text       string    `json:"text"`
	PubDate    time.Time `json:"pub_date"`
	AuthorID   string    `json:"author_id"`
	Author     string    `json:"author"`
	GroupID    int64     `json:"group_id,omitempty"`
	GroupSlug  string    `json:"group_slug,omitempty"`
	GroupTitle string    `json:"group_title,omitempty"`
	Image      string    `json:"-"`
	ImageURL   string    `json:"image,omitempty"`
}

type Comment struct {
	ID       int64     `json:"id"`
	Text     string    `json:"text"`
	Created  time.Time `json:"created"`
	AuthorID string    `json:"author_id"`
	Author   string    `json:"author"`
	PostID   int64     `json:"post_id"`
}

// PostForm is the bound create/edit form. Group carries the raw choice so an
// empty selection and a malformed one can be told apart.
type PostForm struct {
	Text  string `json:"text" form:"text" validate:"required"`
	Group string `json:"group" form:"group" validate:"omitempty,numeric"`
}

type CommentForm struct {
	Text string `json:"text" form:"text" validate:"required"`
}
