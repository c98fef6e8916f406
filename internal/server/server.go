package server

import (
	"errors"

	"backend-yatube/internal/auth"
	"backend-yatube/internal/cache"
	"backend-yatube/internal/config"
	"backend-yatube/internal/db"
	"backend-yatube/internal/follow"
	"backend-yatube/internal/live"
	"backend-yatube/internal/logging"
	"backend-yatube/internal/media"
	"backend-yatube/internal/metrics"
	"backend-yatube/internal/posts"
	"backend-yatube/internal/profile"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type Options struct {
	Logger     *logrus.Logger
	ImageStore media.Store
	Notifiers  []posts.Notifier
}

type Server struct {
	App     *fiber.App
	Cfg     config.Config
	DB      db.Querier
	Redis   *redis.Client
	Log     *logrus.Logger
	Metrics *metrics.Metrics
	Live    *live.Hub

	auth    *auth.Service
	posts   *posts.Service
	follow  *follow.Service
	profile *profile.Service
	media   *media.Service
}

func NewServer(cfg config.Config, q db.Querier, redisClient *redis.Client, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logging.New(cfg.LogLevel)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler(log),
		BodyLimit:    media.MaxImageSize + 1<<20,
	})

	s := &Server{
		App:     app,
		Cfg:     cfg,
		DB:      q,
		Redis:   redisClient,
		Log:     log,
		Metrics: metrics.New(),
		auth:    auth.NewService(cfg.JWTSecret, q),
		profile: profile.NewService(q),
		media:   media.NewService(opts.ImageStore, cfg.MediaBaseURL),
	}

	index := cache.NewFragment(redisClient, cache.IndexKey, cfg.IndexCacheTTL)
	s.posts = posts.NewService(q, index, log)
	s.follow = follow.NewService(q, s.posts)
	s.Live = live.NewHub(redisClient, s.follow, log)

	s.posts.OnCreate(s.Live)
	for _, n := range opts.Notifiers {
		s.posts.OnCreate(n)
	}

	app.Use(recover.New())
	app.Use(logging.Middleware(log))
	app.Use(s.Metrics.Middleware())
	app.Use(auth.Identify(cfg.JWTSecret))

	registerRoutes(s)
	return s
}

// Close stops background workers started by the server.
func (s *Server) Close() {
	s.Live.Close()
}

// registerRoutes mounts fixed paths first; the post and profile routes end
// with /:username catch-alls.
func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.App.Get("/metrics", s.Metrics.Handler())

	auth.RegisterRoutes(s.App.Group("/auth"), s.auth)
	live.RegisterRoutes(s.App.Group("/live"), s.Live)

	follow.RegisterRoutes(s.App, s.follow, follow.Deps{
		Users:   s.auth,
		Media:   s.media,
		Metrics: s.Metrics,
	})
	posts.RegisterRoutes(s.App, s.posts, posts.Deps{
		Users:    s.auth,
		Profiles: s.profile,
		Media:    s.media,
		Metrics:  s.Metrics,
		Log:      s.Log,
	})
}

// errorHandler renders every error as the JSON error page. Only unexpected
// errors are logged; *fiber.Error carries its own status.
func errorHandler(log logrus.FieldLogger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		msg := "internal server error"

		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			msg = fe.Message
		} else {
			log.WithError(err).WithField("path", c.Path()).Error("unhandled error")
		}

		return c.Status(code).JSON(fiber.Map{
			"error":  msg,
			"path":   c.OriginalURL(),
			"status": code,
		})
	}
}
