package follow

import (
	"context"
	"errors"

	"backend-yatube/internal/auth"
	"backend-yatube/internal/media"
	"backend-yatube/internal/metrics"

	"github.com/gofiber/fiber/v2"
)

type UserLookup interface {
	FindByUsername(ctx context.Context, username string) (auth.User, error)
}

type Deps struct {
	Users   UserLookup
	Media   *media.Service
	Metrics *metrics.Metrics
}

// RegisterRoutes mounts the feed and follow toggles. They must be registered
// before the post routes so /{username}/follow is not taken for a post id.
func RegisterRoutes(r fiber.Router, svc *Service, d Deps) {
	login := auth.LoginRequired()

	r.Get("/follow", login, func(c *fiber.Ctx) error {
		page, err := svc.Feed(c.Context(), auth.UserID(c), c.Query("page"))
		if err != nil {
			return err
		}
		for i := range page.Items {
			page.Items[i].ImageURL = d.Media.URL(page.Items[i].Image)
		}
		return c.JSON(fiber.Map{"page": page})
	})

	r.Get("/:username/follow", login, func(c *fiber.Ctx) error {
		author, err := lookup(c, d.Users)
		if err != nil {
			return err
		}
		created, err := svc.Follow(c.Context(), auth.UserID(c), author.ID)
		if err != nil && !errors.Is(err, ErrSelfFollow) {
			return err
		}
		if created {
			d.Metrics.FollowRequests.WithLabelValues(c.Route().Path).Inc()
		}
		return c.Redirect(profileURL(author))
	})

	r.Get("/:username/unfollow", login, func(c *fiber.Ctx) error {
		author, err := lookup(c, d.Users)
		if err != nil {
			return err
		}
		if err := svc.Unfollow(c.Context(), auth.UserID(c), author.ID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, err.Error())
			}
			return err
		}
		d.Metrics.UnfollowRequests.WithLabelValues(c.Route().Path).Inc()
		return c.Redirect(profileURL(author))
	})
}

func lookup(c *fiber.Ctx, users UserLookup) (auth.User, error) {
	user, err := users.FindByUsername(c.Context(), c.Params("username"))
	if errors.Is(err, auth.ErrUserNotFound) {
		return auth.User{}, fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	return user, err
}

func profileURL(u auth.User) string {
	return "/" + u.Username + "/"
}
