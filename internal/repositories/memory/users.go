package memory

import (
	"context"
	"sync"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
)

// UserDirectory is a map-backed repositories.UserDirectory.
type UserDirectory struct {
	mu    sync.RWMutex
	users map[string]domain.User
}

// NewUserDirectory seeds the directory with the provided users.
func NewUserDirectory(users ...domain.User) *UserDirectory {
	d := &UserDirectory{users: make(map[string]domain.User, len(users))}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

// Put adds or replaces a user.
func (d *UserDirectory) Put(user domain.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[user.ID] = user
}

// FindByID returns the user or a not-found store error.
func (d *UserDirectory) FindByID(_ context.Context, userID string) (domain.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	user, ok := d.users[userID]
	if !ok {
		return domain.User{}, repositories.NotFound("user.find", "user "+userID+" not found")
	}
	return user, nil
}
