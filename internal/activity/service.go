package activity

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/agentplane/agentplane/internal/common/logger"
)

// Service enforces the activity lifecycle over a Repository.
type Service struct {
	repo Repository
	log  *logger.Logger
	now  func() time.Time
}

// NewService creates the activity service.
func NewService(repo Repository, log *logger.Logger) *Service {
	return &Service{repo: repo, log: log, now: time.Now}
}

// Track records a new started activity and returns it.
func (s *Service) Track(ctx context.Context, in TrackInput) (*Activity, error) {
	a := &Activity{
		AgentName:          in.AgentName,
		ActivityType:       in.ActivityType,
		ActivityState:      StateStarted,
		UserID:             in.UserID,
		TriggeredBy:        in.TriggeredBy,
		RelatedExecutionID: in.RelatedExecutionID,
		StartedAt:          s.now().UTC(),
		Details:            in.Details,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}
	s.log.WithAgent(a.AgentName).Debug("Activity tracked",
		zap.String("activity_id", a.ID), zap.String("activity_type", a.ActivityType))
	return a, nil
}

// Complete transitions an activity to completed or failed. Transitions
// out of a terminal state are rejected.
func (s *Service) Complete(ctx context.Context, id string, in CompleteInput) (*Activity, error) {
	if in.Status != StateCompleted && in.Status != StateFailed {
		return nil, fmt.Errorf("invalid terminal state %q", in.Status)
	}

	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.ActivityState != StateStarted {
		return nil, fmt.Errorf("%w: %s is %s", ErrTerminal, id, a.ActivityState)
	}

	now := s.now().UTC()
	duration := now.Sub(a.StartedAt).Milliseconds()
	a.ActivityState = in.Status
	a.CompletedAt = &now
	a.DurationMS = &duration
	a.Error = in.Error
	if in.Details != nil {
		if a.Details == nil {
			a.Details = make(map[string]interface{}, len(in.Details))
		}
		for k, v := range in.Details {
			a.Details[k] = v
		}
	}

	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Get returns one activity.
func (s *Service) Get(ctx context.Context, id string) (*Activity, error) {
	return s.repo.Get(ctx, id)
}

// List returns the agent's most recent activities.
func (s *Service) List(ctx context.Context, agentName string, limit int) ([]*Activity, error) {
	return s.repo.List(ctx, agentName, limit)
}
