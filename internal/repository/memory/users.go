package memory

import (
	"context"
	"fmt"

	"nytax/internal/model"
	"nytax/internal/repository"

	"github.com/google/uuid"
)

type auditRepo struct{ s *Store }

func (r auditRepo) Log(_ context.Context, entry *model.AuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = r.s.stamp()
	r.s.data.audit = append(r.s.data.audit, *entry)
	return nil
}

func (r auditRepo) List(_ context.Context, p, limit int) ([]model.AuditLog, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	logs := make([]model.AuditLog, 0, len(r.s.data.audit))
	for i := len(r.s.data.audit) - 1; i >= 0; i-- {
		entry := r.s.data.audit[i]
		if entry.UserID != nil {
			if u, ok := r.s.data.users[*entry.UserID]; ok {
				entry.User = &u
			}
		}
		logs = append(logs, entry)
	}
	start, end := page(len(logs), p, limit)
	return logs[start:end], int64(len(logs)), nil
}

type userRepo struct{ s *Store }

func (r userRepo) Create(_ context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.data.users {
		if u.Username == user.Username || u.Email == user.Email {
			return fmt.Errorf("%w: user %s", repository.ErrDuplicate, user.Username)
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.CreatedAt = r.s.stamp()
	user.UpdatedAt = user.CreatedAt
	r.s.data.users[user.ID] = *user
	return nil
}

func (r userRepo) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	return r.find(func(u model.User) bool { return u.ID == id })
}

func (r userRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	return r.find(func(u model.User) bool { return u.Email == email })
}

func (r userRepo) GetByUsername(_ context.Context, username string) (*model.User, error) {
	return r.find(func(u model.User) bool { return u.Username == username })
}

func (r userRepo) find(match func(model.User) bool) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.data.users {
		if match(u) {
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}
