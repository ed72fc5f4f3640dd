package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// Actor is an authenticated user with the job title that drives its access scope.
type Actor struct {
	ID       int64
	Email    string
	JobTitle string
}

// ActorLoader resolves a user id to an actor. Unknown users return nil, nil.
type ActorLoader interface {
	GetActor(ctx context.Context, id int64) (*Actor, error)
}

// AdminTitles is the set of job titles allowed to manage every user's rules.
type AdminTitles map[string]struct{}

// NewAdminTitles builds the admin set, ignoring blanks.
func NewAdminTitles(titles ...string) AdminTitles {
	set := make(AdminTitles, len(titles))
	for _, title := range titles {
		title = strings.TrimSpace(title)
		if title != "" {
			set[title] = struct{}{}
		}
	}
	return set
}

// IsAdmin returns true when the actor's job title is an admin title.
func (a AdminTitles) IsAdmin(actor Actor) bool {
	if actor.JobTitle == "" {
		return false
	}
	_, ok := a[actor.JobTitle]
	return ok
}

// ActorRepository loads actors from users and job_titles.
type ActorRepository struct {
	db *sql.DB
}

// NewActorRepository constructs an ActorRepository.
func NewActorRepository(db *sql.DB) *ActorRepository {
	if db == nil {
		return nil
	}
	return &ActorRepository{db: db}
}

// GetActor loads a user with its job title.
func (r *ActorRepository) GetActor(ctx context.Context, id int64) (*Actor, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("actor repo: nil db")
	}
	var actor Actor
	var title sql.NullString
	err := r.db.QueryRowContext(ctx, `
SELECT u.user_id, u.email, jt.job_title_name
FROM users u
LEFT JOIN job_titles jt ON jt.job_title_id = u.job_title_id
WHERE u.user_id = $1`, id).Scan(&actor.ID, &actor.Email, &title)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	actor.JobTitle = title.String
	return &actor, nil
}
