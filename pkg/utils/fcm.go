package utils

import (
	"context"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Notifier delivers a push notification to one device token.
type Notifier interface {
	Send(ctx context.Context, token, title, body string, data map[string]string) error
}

// FCMNotifier sends through Firebase Cloud Messaging.
type FCMNotifier struct {
	client *messaging.Client
	log    *zap.Logger
}

// NewFCMNotifier builds a Firebase app from a service-account file.
func NewFCMNotifier(ctx context.Context, credentialsFile string, log *zap.Logger) (*FCMNotifier, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, err
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, err
	}

	log.Info("firebase cloud messaging ready")
	return &FCMNotifier{client: client, log: log}, nil
}

func (n *FCMNotifier) Send(ctx context.Context, token, title, body string, data map[string]string) error {
	if token == "" {
		return nil
	}

	message := &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
	}

	if _, err := n.client.Send(ctx, message); err != nil {
		n.log.Warn("fcm send failed", zap.Error(err))
		return err
	}
	return nil
}

// NopNotifier is used when no Firebase credentials are configured.
type NopNotifier struct{}

func (NopNotifier) Send(context.Context, string, string, string, map[string]string) error { return nil }
