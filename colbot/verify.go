package colbot

import (
	"context"
	"fmt"
)

const (
	verifiedMessage       = "✅ You are now **%s**!"
	alreadyVerifiedFormat = "You are already **%s**!"
	roleNotFoundFormat    = "Role \"%s\" not found."
)

// RoleGranter adds a guild role to a member
type RoleGranter interface {
	GrantRole(ctx context.Context, userID string, roleID string) error
}

// NextVerifyStage returns the first stage role the caller doesn't hold
// yet. done is true once every stage is held.
func NextVerifyStage(stages []string, c Caller) (stage string, done bool) {
	for _, s := range stages {
		if !c.HasRoleNamed(s) {
			return s, false
		}
	}
	return "", true
}

// Verify grants the caller the next verification stage. Stages are
// additive, earlier roles are kept.
func (w *Workflows) Verify(ctx context.Context, c Caller, granter RoleGranter) (reply string, err error) {
	defer func() { w.metrics.observeCommand("verifyme", err) }()

	stages := w.guild.VerifyStages
	if len(stages) == 0 {
		stages = DefaultVerifyStages
	}
	stage, done := NextVerifyStage(stages, c)
	if done {
		return fmt.Sprintf(alreadyVerifiedFormat, stages[len(stages)-1]), nil
	}

	role, ok := findRoleNamed(c.GuildRoles, stage)
	if !ok {
		return "", newWorkflowError(ErrNotFound, fmt.Sprintf(roleNotFoundFormat, stage), nil)
	}
	if err = granter.GrantRole(ctx, c.UserID, role.ID); err != nil {
		return "", newWorkflowError(ErrPermissionDenied, DefaultDiscordErrorMessage, err)
	}
	contextLogger(ctx, w.logger).InfoContext(ctx, "verification stage granted", "stage", stage, "caller", c)
	return fmt.Sprintf(verifiedMessage, stage), nil
}
