package applications

import (
	"context"
	"strings"

	"github.com/lendcore/application_layer/internal/app/domain/actor"
	"github.com/lendcore/application_layer/internal/app/domain/application"
	"github.com/lendcore/application_layer/internal/app/metrics"
	"github.com/lendcore/application_layer/internal/directory"
	"github.com/lendcore/application_layer/internal/errors"
	"github.com/lendcore/application_layer/pkg/logger"
)

// authorizer resolves actors against the user directory and enforces the
// per-operation access rules. The policy is fail-closed: when the directory
// cannot answer, the actor is treated as unknown rather than granted a
// default role.
type authorizer struct {
	users directory.UserDirectory
	log   *logger.Logger
}

// resolveActor turns an actor id into a resolved actor. Missing identity is
// checked before anything else.
func (a *authorizer) resolveActor(ctx context.Context, actorID string) (actor.Actor, error) {
	if strings.TrimSpace(actorID) == "" {
		return actor.Actor{}, errors.Unauthorized("missing actor identity")
	}
	exists, err := a.users.Exists(ctx, actorID)
	if err != nil {
		a.log.WithError(err).WithField("actor_id", actorID).Warn("user directory lookup failed, denying")
		return actor.Actor{}, errors.NotFound("actor not found")
	}
	if !exists {
		return actor.Actor{}, errors.NotFound("actor not found")
	}
	raw, err := a.users.Role(ctx, actorID)
	if err != nil {
		a.log.WithError(err).WithField("actor_id", actorID).Warn("role resolution failed, denying")
		return actor.Actor{}, errors.Forbidden("actor role unavailable")
	}
	return actor.Actor{ID: actorID, Role: actor.ParseRole(raw)}, nil
}

// authorizeView implements the view/tag rule: the applicant themselves, or
// any elevated role.
func (a *authorizer) authorizeView(app application.Application, act actor.Actor) error {
	if act.ID == app.ApplicantID || act.Role.Elevated() {
		return nil
	}
	metrics.RecordAuthorizationDenial("view")
	return errors.Forbidden("not permitted to access this application")
}

// authorizeStatusChange implements the status-change rule. The manager
// self-change check fires even though the role alone would authorize: a
// manager never adjudicates their own application.
func (a *authorizer) authorizeStatusChange(app application.Application, act actor.Actor) error {
	if !act.Role.Elevated() {
		metrics.RecordAuthorizationDenial("status_change")
		return errors.Forbidden("status changes require an elevated role")
	}
	if act.Role == actor.RoleManager && app.ApplicantID == act.ID {
		metrics.RecordAuthorizationDenial("status_change")
		return errors.Conflict("managers cannot change status of their own applications")
	}
	return nil
}

// authorizeDelete implements the delete rule.
func (a *authorizer) authorizeDelete(act actor.Actor) error {
	if act.Role != actor.RoleAdmin {
		metrics.RecordAuthorizationDenial("delete")
		return errors.Forbidden("deletion requires the ADMIN role")
	}
	return nil
}
