package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// Service owns the suspend/reactivate transitions driven by payment state.
// Both transitions lock the subscription row for their duration and are
// idempotent: suspending a suspended subscription (or reactivating an
// active one) reports the current state without a second write.
type Service interface {
	Get(ctx context.Context, id snowflake.ID) (Subscription, error)

	// Suspend moves an active subscription to suspended, recording the
	// reason and timestamp. Returns (false, nil) when the subscription is
	// already suspended.
	Suspend(ctx context.Context, id snowflake.ID, reason string) (bool, error)

	// Reactivate moves a suspended subscription back to active and clears
	// the suspension fields. Returns (false, nil) when not suspended.
	Reactivate(ctx context.Context, id snowflake.ID) (bool, error)
}
