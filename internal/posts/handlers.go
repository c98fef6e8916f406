package posts

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"strconv"
	"strings"

	"backend-yatube/internal/auth"
	"backend-yatube/internal/media"
	"backend-yatube/internal/metrics"
	"backend-yatube/internal/profile"
	"backend-yatube/internal/shared/form"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type UserLookup interface {
	FindByUsername(ctx context.Context, username string) (auth.User, error)
}

type StatsLookup interface {
	Aggregate(ctx context.Context, ownerID, viewerID string) (profile.Stats, error)
}

type Deps struct {
	Users    UserLookup
	Profiles StatsLookup
	Media    *media.Service
	Metrics  *metrics.Metrics
	Log      logrus.FieldLogger
}

type handler struct {
	svc *Service
	Deps
}

// RegisterRoutes mounts the post views. The profile and post routes are
// catch-alls, so every fixed path must be registered on r before them.
func RegisterRoutes(r fiber.Router, svc *Service, d Deps) {
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	h := handler{svc: svc, Deps: d}
	login := auth.LoginRequired()

	r.Get("/", h.index)
	r.Get("/new", login, h.newPostForm)
	r.Post("/new", login, h.createPost)
	r.Get("/group/:slug", h.groupPosts)
	r.Get("/admin/groups", login, h.listGroups)
	r.Post("/admin/groups", login, h.createGroup)
	r.Get("/:username/:post_id/edit", login, h.editPostForm)
	r.Post("/:username/:post_id/edit", login, h.editPost)
	r.Get("/:username/:post_id/comment", login, func(c *fiber.Ctx) error {
		return c.Redirect("/" + c.Params("username") + "/" + c.Params("post_id") + "/")
	})
	r.Post("/:username/:post_id/comment", login, h.addComment)
	r.Get("/:username/:post_id", h.postView)
	r.Get("/:username", h.profile)
}

func (h handler) index(c *fiber.Ctx) error {
	variant := c.Query("page", "1")
	index := h.svc.Index()
	if body, ok := index.Get(c.Context(), variant); ok {
		h.Metrics.IndexCache.WithLabelValues("hit").Inc()
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Send(body)
	}
	h.Metrics.IndexCache.WithLabelValues("miss").Inc()

	page, err := h.svc.List(c.Context(), All(), c.Query("page"))
	if err != nil {
		return err
	}
	h.withImages(page.Items)

	body, err := c.App().Config().JSONEncoder(fiber.Map{"page": page})
	if err != nil {
		return err
	}
	if err := index.Set(c.Context(), variant, body); err != nil {
		h.Log.WithError(err).Warn("index cache store failed")
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(body)
}

func (h handler) groupPosts(c *fiber.Ctx) error {
	group, err := h.svc.GroupBySlug(c.Context(), c.Params("slug"))
	if err != nil {
		return notFound(err)
	}
	page, err := h.svc.List(c.Context(), InGroup(group.ID), c.Query("page"))
	if err != nil {
		return err
	}
	h.withImages(page.Items)
	return c.JSON(fiber.Map{"group": group, "page": page})
}

func (h handler) profile(c *fiber.Ctx) error {
	author, err := h.Users.FindByUsername(c.Context(), c.Params("username"))
	if err != nil {
		return notFound(err)
	}
	page, err := h.svc.List(c.Context(), ByAuthor(author.ID), c.Query("page"))
	if err != nil {
		return err
	}
	h.withImages(page.Items)

	stats, err := h.Profiles.Aggregate(c.Context(), author.ID, auth.UserID(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"author":    author,
		"stats":     stats,
		"following": stats.Following,
		"page":      page,
	})
}

func (h handler) postView(c *fiber.Ctx) error {
	post, err := h.loadPost(c)
	if err != nil {
		return err
	}
	return h.renderPost(c, fiber.StatusOK, post, CommentForm{}, nil)
}

func (h handler) renderPost(c *fiber.Ctx, status int, post Post, f CommentForm, errs form.Errors) error {
	stats, err := h.Profiles.Aggregate(c.Context(), post.AuthorID, auth.UserID(c))
	if err != nil {
		return err
	}
	comments, err := h.svc.Comments(c.Context(), post.ID)
	if err != nil {
		return err
	}
	h.withImage(&post)

	out := fiber.Map{
		"post":     post,
		"author":   fiber.Map{"id": post.AuthorID, "username": post.Author},
		"stats":    stats,
		"comments": comments,
		"form":     f,
	}
	if errs != nil {
		out["errors"] = errs
	}
	return c.Status(status).JSON(out)
}

func (h handler) newPostForm(c *fiber.Ctx) error {
	return h.renderPostForm(c, fiber.StatusOK, PostForm{}, nil, nil)
}

func (h handler) createPost(c *fiber.Ctx) error {
	var f PostForm
	if err := c.BodyParser(&f); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
	}

	post := Post{AuthorID: auth.UserID(c), Author: auth.Username(c)}
	errs, err := h.bind(c, &post, f)
	if err != nil {
		return err
	}
	if errs != nil {
		return h.renderPostForm(c, fiber.StatusBadRequest, f, errs, nil)
	}

	post, err = h.svc.CreatePost(c.Context(), post)
	if err != nil {
		return err
	}
	h.Metrics.PostsCreated.WithLabelValues(strconv.FormatBool(post.Image != "")).Inc()
	return c.Redirect("/")
}

func (h handler) editPostForm(c *fiber.Ctx) error {
	post, err := h.loadPost(c)
	if err != nil {
		return err
	}
	if post.AuthorID != auth.UserID(c) {
		return c.Redirect(postURL(post))
	}
	return h.renderPostForm(c, fiber.StatusOK, formFor(post), nil, &post)
}

func (h handler) editPost(c *fiber.Ctx) error {
	post, err := h.loadPost(c)
	if err != nil {
		return err
	}
	if post.AuthorID != auth.UserID(c) {
		return c.Redirect(postURL(post))
	}

	var f PostForm
	if err := c.BodyParser(&f); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
	}

	previousImage := post.Image
	errs, err := h.bind(c, &post, f)
	if err != nil {
		return err
	}
	if errs != nil {
		return h.renderPostForm(c, fiber.StatusBadRequest, f, errs, &post)
	}

	if _, err := h.svc.EditPost(c.Context(), post); err != nil {
		return notFound(err)
	}
	if previousImage != "" && previousImage != post.Image {
		if err := h.Media.Remove(c.Context(), previousImage); err != nil {
			h.Log.WithError(err).WithField("key", previousImage).Warn("stale image removal failed")
		}
	}
	return c.Redirect(postURL(post))
}

func (h handler) addComment(c *fiber.Ctx) error {
	post, err := h.loadPost(c)
	if err != nil {
		return err
	}

	var f CommentForm
	if err := c.BodyParser(&f); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
	}

	_, err = h.svc.AddComment(c.Context(), Comment{
		Text:     f.Text,
		AuthorID: auth.UserID(c),
		Author:   auth.Username(c),
		PostID:   post.ID,
	})
	if errs, ok := form.AsErrors(err); ok {
		return h.renderPost(c, fiber.StatusBadRequest, post, f, errs)
	}
	if err != nil {
		return err
	}
	h.Metrics.CommentsCreated.WithLabelValues(c.Route().Path).Inc()
	return c.Redirect(postURL(post))
}

func (h handler) listGroups(c *fiber.Ctx) error {
	groups, err := h.svc.ListGroups(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"groups": groups})
}

func (h handler) createGroup(c *fiber.Ctx) error {
	var g Group
	if err := c.BodyParser(&g); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
	}
	created, err := h.svc.CreateGroup(c.Context(), g)
	if errs, ok := form.AsErrors(err); ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"form": g, "errors": errs})
	}
	if errors.Is(err, ErrGroupExists) {
		return fiber.NewError(fiber.StatusConflict, err.Error())
	}
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

// bind copies a valid form onto post. Field problems come back as form errors;
// anything else is a server error. Images are stored only once the rest of the
// form is valid.
func (h handler) bind(c *fiber.Ctx, post *Post, f PostForm) (form.Errors, error) {
	f.Text = strings.TrimSpace(f.Text)
	errs := form.Validate(f)

	if _, bad := errs["group"]; !bad {
		group, err := h.svc.ResolveGroup(c.Context(), f.Group)
		if fe, ok := form.AsErrors(err); ok {
			errs = errs.Add("group", fe["group"])
		} else if err != nil {
			return nil, err
		}
		post.GroupID, post.GroupSlug, post.GroupTitle = group.ID, group.Slug, group.Title
	}
	post.Text = f.Text

	fh, err := c.FormFile("image")
	if err != nil {
		return errs, nil
	}
	img, err := readImage(fh)
	if err != nil {
		return errs.Add("image", err.Error()), nil
	}
	if errs != nil {
		return errs, nil
	}

	key, err := h.Media.Save(c.Context(), img)
	if errors.Is(err, media.ErrDisabled) {
		return errs.Add("image", err.Error()), nil
	}
	if err != nil {
		return nil, err
	}
	post.Image = key
	return nil, nil
}

func readImage(fh *multipart.FileHeader) (media.Image, error) {
	if fh.Size > media.MaxImageSize {
		return media.Image{}, media.ErrTooLarge
	}
	file, err := fh.Open()
	if err != nil {
		return media.Image{}, media.ErrNotImage
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, media.MaxImageSize+1))
	if err != nil {
		return media.Image{}, media.ErrNotImage
	}
	return media.Inspect(data)
}

func (h handler) renderPostForm(c *fiber.Ctx, status int, f PostForm, errs form.Errors, post *Post) error {
	groups, err := h.svc.ListGroups(c.Context())
	if err != nil {
		return err
	}
	out := fiber.Map{"form": f, "groups": groups, "is_edit": post != nil}
	if post != nil {
		h.withImage(post)
		out["post"] = post
	}
	if errs != nil {
		out["errors"] = errs
	}
	return c.Status(status).JSON(out)
}

func (h handler) loadPost(c *fiber.Ctx) (Post, error) {
	id, err := strconv.ParseInt(c.Params("post_id"), 10, 64)
	if err != nil {
		return Post{}, fiber.NewError(fiber.StatusNotFound, ErrPostNotFound.Error())
	}
	post, err := h.svc.GetPost(c.Context(), c.Params("username"), id)
	if err != nil {
		return Post{}, notFound(err)
	}
	return post, nil
}

func (h handler) withImages(items []Post) {
	for i := range items {
		h.withImage(&items[i])
	}
}

func (h handler) withImage(p *Post) {
	p.ImageURL = h.Media.URL(p.Image)
}

func formFor(p Post) PostForm {
	f := PostForm{Text: p.Text}
	if p.GroupID != 0 {
		f.Group = strconv.FormatInt(p.GroupID, 10)
	}
	return f
}

func postURL(p Post) string {
	return "/" + p.Author + "/" + strconv.FormatInt(p.ID, 10) + "/"
}

func notFound(err error) error {
	if errors.Is(err, ErrPostNotFound) || errors.Is(err, ErrGroupNotFound) || errors.Is(err, auth.ErrUserNotFound) {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	return err
}
