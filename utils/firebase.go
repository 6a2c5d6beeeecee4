// utils/firebase.go
package utils

import (
	"context"

	"guidebook/config"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

var FCMClient *messaging.Client

// FirebaseInit initializes the Firebase App and Messaging client. Push delivery
// is optional, so a missing credentials file only disables the push channel.
func FirebaseInit() *messaging.Client {
	logger := GetLogger()
	path := config.AppConfig.FirebaseCredentials
	if path == "" {
		logger.Info("firebase: no credentials configured, push notifications disabled")
		return nil
	}

	ctx := context.Background()
	opt := option.WithCredentialsFile(path)

	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		logger.Error("firebase: error initializing app", zap.Error(err))
		return nil
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		logger.Error("firebase: error getting Messaging client", zap.Error(err))
		return nil
	}

	FCMClient = client
	return client
}
