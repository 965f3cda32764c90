package replication

import (
	"context"
	"fmt"

	"fxCopyDesk/internal/domain"
	"fxCopyDesk/internal/ports"
)

// PauseSubscription suspends replication for a subscription without
// terminating it. Open copy trades stay open and still mirror the master's
// closes; only new opens stop.
func (e *Engine) PauseSubscription(ctx context.Context, subscriptionID int64) error {
	return e.transition(ctx, subscriptionID, domain.SubscriptionActive, domain.SubscriptionPaused)
}

// ResumeSubscription reactivates a paused subscription.
func (e *Engine) ResumeSubscription(ctx context.Context, subscriptionID int64) error {
	return e.transition(ctx, subscriptionID, domain.SubscriptionPaused, domain.SubscriptionActive)
}

// StopSubscription terminates a subscription. STOPPED is terminal; the
// follower must create a new subscription to copy again.
func (e *Engine) StopSubscription(ctx context.Context, subscriptionID int64) error {
	sub, err := e.loadSubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if sub.Status == domain.SubscriptionStopped {
		return nil
	}
	sub.Status = domain.SubscriptionStopped
	if err := e.followers.UpdateFollower(ctx, sub); err != nil {
		return fmt.Errorf("failed to stop subscription %d: %w", subscriptionID, err)
	}
	e.logger.Info(ctx, "Subscription stopped", map[string]interface{}{"subscriptionID": subscriptionID})
	return nil
}

func (e *Engine) transition(ctx context.Context, subscriptionID int64, from, to domain.SubscriptionStatus) error {
	sub, err := e.loadSubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if sub.Status != from {
		return fmt.Errorf("subscription %d is %s, not %s: %w", subscriptionID, sub.Status, from, ports.ErrSubscriptionInactive)
	}
	sub.Status = to
	if err := e.followers.UpdateFollower(ctx, sub); err != nil {
		return fmt.Errorf("failed to update subscription %d: %w", subscriptionID, err)
	}
	e.logger.Info(ctx, "Subscription status changed", map[string]interface{}{
		"subscriptionID": subscriptionID, "from": from, "to": to,
	})
	return nil
}

func (e *Engine) loadSubscription(ctx context.Context, id int64) (*domain.CopyFollower, error) {
	sub, err := e.followers.FindFollowerByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription %d: %w", id, err)
	}
	if sub == nil {
		return nil, fmt.Errorf("subscription %d: %w", id, ports.ErrNotFound)
	}
	return sub, nil
}
