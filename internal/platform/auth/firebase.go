package auth

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/config"
	"github.com/hanko-field/orders/internal/repositories"
)

// NewFirebaseClient initialises the Firebase Admin auth client.
func NewFirebaseClient(ctx context.Context, cfg config.FirebaseConfig) (*firebaseauth.Client, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firebase project id is required")
	}
	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase auth client: %w", err)
	}
	return client, nil
}

type userGetter interface {
	GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error)
}

// UserDirectory resolves customers from Firebase Authentication and satisfies
// repositories.UserDirectory.
type UserDirectory struct {
	users userGetter
}

func NewUserDirectory(users userGetter) *UserDirectory {
	return &UserDirectory{users: users}
}

func (d *UserDirectory) FindByID(ctx context.Context, userID string) (domain.User, error) {
	record, err := d.users.GetUser(ctx, userID)
	if err != nil {
		if firebaseauth.IsUserNotFound(err) {
			return domain.User{}, repositories.NotFound("user.find", "user "+userID+" not found")
		}
		return domain.User{}, repositories.NewStoreError("user.find", repositories.StoreErrorUnavailable, "firebase auth lookup failed", err)
	}
	return domain.User{
		ID:          record.UID,
		Email:       record.Email,
		DisplayName: record.DisplayName,
		Disabled:    record.Disabled,
	}, nil
}
