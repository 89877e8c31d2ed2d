package activity

import (
	"context"
	"errors"
)

// ErrNotFound is returned when an activity does not exist.
var ErrNotFound = errors.New("activity not found")

// ErrTerminal is returned when completing an already-terminal activity.
var ErrTerminal = errors.New("activity already in terminal state")

// Repository is the persistence boundary for activities.
type Repository interface {
	Create(ctx context.Context, a *Activity) error
	Get(ctx context.Context, id string) (*Activity, error)
	List(ctx context.Context, agentName string, limit int) ([]*Activity, error)
	Update(ctx context.Context, a *Activity) error
}
