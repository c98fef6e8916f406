// Package media validates and stores images attached to posts.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

const MaxImageSize = 5 << 20

var (
	ErrNotImage = errors.New("upload a valid image. The file you uploaded was either not an image or a corrupted image")
	ErrTooLarge = errors.New("image is too large")
	ErrDisabled = errors.New("image uploads are not configured")
)

type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	Remove(ctx context.Context, key string) error
}

// Image is an upload that has been sniffed and decoded.
type Image struct {
	ContentType string
	Extension   string
	Width       int
	Height      int
	Data        []byte
}

// Inspect accepts data only when both the sniffed type is an image and the
// header decodes as one.
func Inspect(data []byte) (Image, error) {
	if len(data) > MaxImageSize {
		return Image{}, ErrTooLarge
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return Image{}, ErrNotImage
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Image{}, ErrNotImage
	}
	return Image{
		ContentType: mt.String(),
		Extension:   mt.Extension(),
		Width:       cfg.Width,
		Height:      cfg.Height,
		Data:        data,
	}, nil
}

type Service struct {
	store   Store
	baseURL string
}

// NewService returns a service backed by store. A nil store disables uploads
// but still resolves URLs of existing keys.
func NewService(store Store, baseURL string) *Service {
	return &Service{store: store, baseURL: strings.TrimRight(baseURL, "/")}
}

// Save stores img under posts/ and returns the object key.
func (s *Service) Save(ctx context.Context, img Image) (string, error) {
	if s == nil || s.store == nil {
		return "", ErrDisabled
	}
	key := "posts/" + uuid.NewString() + img.Extension
	if err := s.store.Put(ctx, key, img.ContentType, img.Data); err != nil {
		return "", fmt.Errorf("store image: %w", err)
	}
	return key, nil
}

func (s *Service) Remove(ctx context.Context, key string) error {
	if s == nil || s.store == nil || key == "" {
		return nil
	}
	return s.store.Remove(ctx, key)
}

func (s *Service) URL(key string) string {
	if key == "" {
		return ""
	}
	if s == nil || s.baseURL == "" {
		return "/media/" + key
	}
	return s.baseURL + "/" + key
}
