// Package logging builds the process logger and the request-logging middleware.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// SlowRequest is the duration above which a request is logged at warn level.
const SlowRequest = 2 * time.Second

func New(level string) *logrus.Logger {
	return NewWithOutput(level, os.Stdout)
}

func NewWithOutput(level string, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(out)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

// Middleware logs every request once it completes.
func Middleware(logger *logrus.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		duration := time.Since(start)

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		entry := logger.WithFields(logrus.Fields{
			"method":    c.Method(),
			"path":      c.Path(),
			"status":    status,
			"duration":  duration,
			"remote_ip": c.IP(),
		})
		if user, ok := c.Locals("username").(string); ok && user != "" {
			entry = entry.WithField("user", user)
		}

		switch {
		case duration > SlowRequest:
			entry.Warn("slow request")
		case status >= fiber.StatusInternalServerError:
			entry.Error("request failed")
		default:
			entry.Info("request completed")
		}
		return err
	}
}
