package notifications

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

type Mailer interface {
	Send(ctx context.Context, from, to, subject, body string) error
}

type Service struct {
	store       StoreAPI
	Mailer      Mailer
	DefaultFrom string
	Logger      *slog.Logger
	Now         func() time.Time
}

func New(store StoreAPI, mailer Mailer) *Service {
	return &Service{
		store:       store,
		Mailer:      mailer,
		DefaultFrom: "no-reply@example.com",
		Logger:      slog.Default(),
		Now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Notify(ctx context.Context, recipientID, ntype, title, body string) error {
	n := Notification{
		ID:          uuid.NewString(),
		RecipientID: recipientID,
		Type:        ntype,
		Title:       title,
		Body:        body,
		CreatedAt:   s.Now(),
	}
	if err := s.store.CreateNotification(ctx, n); err != nil {
		return err
	}

	if s.Mailer == nil {
		return nil
	}
	email, err := s.store.RecipientEmail(ctx, recipientID)
	if err != nil {
		s.Logger.Warn("notification email lookup failed", "recipient", recipientID, "err", err)
		return nil
	}
	if email == "" {
		return nil
	}
	if err := s.Mailer.Send(ctx, s.DefaultFrom, email, title, body); err != nil {
		s.Logger.Warn("notification email send failed", "recipient", recipientID, "err", err)
	}
	return nil
}

func (s *Service) List(ctx context.Context, recipientID string, limit, offset int) ([]Notification, error) {
	return s.store.ListNotifications(ctx, recipientID, limit, offset)
}

func (s *Service) CountUnread(ctx context.Context, recipientID string) (int, error) {
	return s.store.CountUnread(ctx, recipientID)
}

func (s *Service) MarkRead(ctx context.Context, recipientID, notificationID string) error {
	return s.store.MarkRead(ctx, recipientID, notificationID)
}
