// Package events publishes domain events to kafka.
package events

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"backend-yatube/internal/posts"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

const publishTimeout = 2 * time.Second

type PostCreated struct {
	ID       int64     `json:"id"`
	AuthorID string    `json:"author_id"`
	GroupID  int64     `json:"group_id,omitempty"`
	Text     string    `json:"text"`
	Image    string    `json:"image,omitempty"`
	PubDate  time.Time `json:"pub_date"`
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher implements posts.Notifier. Failures are logged and never reach
// the request that created the post.
type Publisher struct {
	w   MessageWriter
	log logrus.FieldLogger
}

var _ posts.Notifier = (*Publisher)(nil)

func NewPublisher(brokers []string, topic string, log logrus.FieldLogger) *Publisher {
	return newPublisher(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}, log)
}

func newPublisher(w MessageWriter, log logrus.FieldLogger) *Publisher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Publisher{w: w, log: log}
}

func (p *Publisher) PostCreated(ctx context.Context, post posts.Post) {
	body, err := json.Marshal(PostCreated{
		ID:       post.ID,
		AuthorID: post.AuthorID,
		GroupID:  post.GroupID,
		Text:     post.Text,
		Image:    post.Image,
		PubDate:  post.PubDate,
	})
	if err != nil {
		p.log.WithError(err).Error("encode post event")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(post.AuthorID),
		Value: body,
		Time:  post.PubDate,
	})
	if err != nil {
		p.log.WithError(err).WithField("post_id", strconv.FormatInt(post.ID, 10)).Warn("publish post event failed")
	}
}

func (p *Publisher) Close() error {
	return p.w.Close()
}

// ParseBrokers splits a comma separated broker list, dropping blanks.
func ParseBrokers(raw string) []string {
	var out []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
