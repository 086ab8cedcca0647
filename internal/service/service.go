// Package service implements the admission engine: batch lifecycle,
// admission, settlement and compensating release. Every capacity counter is
// mutated here and only inside a repository transaction.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/Shivanand-hulikatti/event-admission/internal/model"
	"github.com/Shivanand-hulikatti/event-admission/internal/repository"
)

// Clock returns the current instant.
type Clock func() time.Time

// Actor identifies who caused a transition.
type Actor struct {
	Type model.ActorType `json:"type"`
	ID   string          `json:"id,omitempty"`
}

var systemActor = Actor{Type: model.ActorSystem}

// engineError converts anything leaving the engine into a *model.Error.
func engineError(err error, op string) error {
	if err == nil {
		return nil
	}
	var e *model.Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, repository.ErrDuplicate) {
		return model.NewError(model.KindAlreadyRegistered, "participant already registered")
	}
	return model.Internal(err, op)
}

// notFoundAs maps repository.ErrNotFound to the given engine error.
func notFoundAs(err error, target *model.Error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return target
	}
	return err
}

// recordTransition appends one audit entry inside tx.
func recordTransition(ctx context.Context, tx repository.Tx, entity model.EntityType, id, from, to, reason string, actor Actor, meta map[string]any) error {
	return tx.AppendStatusChange(ctx, &model.StatusChange{
		EntityType: entity,
		EntityID:   id,
		OldStatus:  from,
		NewStatus:  to,
		Reason:     reason,
		ActorType:  actor.Type,
		ActorID:    actor.ID,
		Metadata:   meta,
	})
}
