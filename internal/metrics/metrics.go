package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Registry *prometheus.Registry

	SuccessfulRequests *prometheus.CounterVec
	BadRequests        *prometheus.CounterVec
	PostsCreated       *prometheus.CounterVec
	CommentsCreated    *prometheus.CounterVec
	FollowRequests     *prometheus.CounterVec
	UnfollowRequests   *prometheus.CounterVec
	IndexCache         *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		SuccessfulRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "successful_request",
				Help: "Total number of successful (2xx/3xx) HTTP requests",
			},
			[]string{"path"},
		),
		BadRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unsuccessful_request",
				Help: "Total number of unsuccessful (4xx/5xx) HTTP requests",
			},
			[]string{"path"},
		),
		PostsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "posts_created",
				Help: "Total number of posts created",
			},
			[]string{"with_image"},
		),
		CommentsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "comments_created",
				Help: "Total number of comments created",
			},
			[]string{"path"},
		),
		FollowRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "successful_follows",
				Help: "Total number of follow edges created",
			},
			[]string{"path"},
		),
		UnfollowRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "successful_unfollows",
				Help: "Total number of follow edges removed",
			},
			[]string{"path"},
		),
		IndexCache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_cache_lookups",
				Help: "Index fragment cache lookups by result",
			},
			[]string{"result"},
		),
	}

	m.Registry.MustRegister(
		m.SuccessfulRequests,
		m.BadRequests,
		m.PostsCreated,
		m.CommentsCreated,
		m.FollowRequests,
		m.UnfollowRequests,
		m.IndexCache,
	)
	return m
}

// Handler exposes the registry in the prometheus text format.
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
}

// Middleware counts requests by matched route and outcome.
func (m *Metrics) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		status := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		} else if err != nil {
			status = fiber.StatusInternalServerError
		}

		path := c.Route().Path
		if status >= fiber.StatusBadRequest {
			m.BadRequests.WithLabelValues(path).Inc()
		} else {
			m.SuccessfulRequests.WithLabelValues(path).Inc()
		}
		return err
	}
}
