// Package seed fills an empty user store with a fixed development roster.
package seed

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"usermanagement/internal/model"
	"usermanagement/internal/repository"
)

type devUser struct {
	forename string
	surname  string
	email    string
	isActive bool
	age      int
	role     model.UserRole
}

var devUsers = []devUser{
	{"Peter", "Loew", "ploew@example.com", true, 25, model.UserRoleUser},
	{"Benjamin Franklin", "Gates", "bfgates@example.com", true, 40, model.UserRoleAdmin},
	{"Castor", "Troy", "ctroy@example.com", false, 35, model.UserRoleUser},
	{"Memphis", "Raines", "mraines@example.com", true, 50, model.UserRoleUser},
	{"Stanley", "Goodspeed", "sgodspeed@example.com", true, 29, model.UserRoleUser},
	{"H.I.", "McDunnough", "himcdunnough@example.com", true, 60, model.UserRoleUser},
	{"Cameron", "Poe", "cpoe@example.com", false, 33, model.UserRoleUser},
	{"Edward", "Malus", "emalus@example.com", false, 28, model.UserRoleUser},
	{"Damon", "Macready", "dmacready@example.com", false, 45, model.UserRoleUser},
	{"Johnny", "Blaze", "jblaze@example.com", true, 38, model.UserRoleUser},
	{"Robin", "Feld", "rfeld@example.com", true, 32, model.UserRoleUser},
}

// DevelopmentUsers builds the roster with birth dates relative to today.
func DevelopmentUsers(today time.Time) []*model.User {
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)

	users := make([]*model.User, 0, len(devUsers))
	for _, u := range devUsers {
		users = append(users, &model.User{
			Forename:  u.forename,
			Surname:   u.surname,
			Email:     u.email,
			Role:      u.role,
			IsActive:  u.isActive,
			BirthDate: day.AddDate(-u.age, 0, 0),
		})
	}
	return users
}

// Users writes the roster straight to the repository when it holds no live
// users. Seeded rows bypass the user service, so they carry no audit
// history. It returns how many users were inserted.
func Users(ctx context.Context, repo repository.UserRepository, today time.Time, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	existing, err := repo.Count(ctx, repository.UserListFilter{})
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	if existing > 0 {
		logger.Debug("user store not empty, skipping seed", zap.Int64("users", existing))
		return 0, nil
	}

	inserted := 0
	for _, user := range DevelopmentUsers(today) {
		if err := repo.Create(ctx, user); err != nil {
			return inserted, fmt.Errorf("seed user %s: %w", user.Email, err)
		}
		inserted++
	}

	logger.Info("seeded development users", zap.Int("count", inserted))
	return inserted, nil
}
