package roles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pradum97/jsondeck-sub000/internal/domain/models"
	"github.com/pradum97/jsondeck-sub000/internal/lib/sl"
	"github.com/pradum97/jsondeck-sub000/internal/storage"
)

type SubscriptionProvider interface {
	SubscriptionByUserID(
		ctx context.Context,
		userID int64,
	) (*models.Subscription, error)
}

// Resolver derives an authorization tier from the caller's current
// subscription snapshot. The tier is computed per request, never cached
// in tokens, so plan changes take effect without re-login.
type Resolver struct {
	logger        *slog.Logger
	subscriptions SubscriptionProvider
}

func New(logger *slog.Logger, subscriptions SubscriptionProvider) *Resolver {
	return &Resolver{
		logger:        logger,
		subscriptions: subscriptions,
	}
}

// TierFor looks up the user's subscription snapshot and resolves its tier.
// A missing subscription means free; only storage failures are errors.
func (r *Resolver) TierFor(ctx context.Context, userID int64) (models.Tier, error) {
	const op = "roles.TierFor"

	sub, err := r.subscriptions.SubscriptionByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrSubscriptionNotFound) {
			return models.TierFree, nil
		}
		r.logger.Error("failed to get subscription",
			slog.String("op", op),
			slog.Int64("userID", userID),
			sl.Err(err),
		)
		return models.TierFree, fmt.Errorf("%s: %w", op, err)
	}

	return Resolve(sub), nil
}

// Resolve maps a subscription snapshot onto a tier. Pure; nil means free.
func Resolve(sub *models.Subscription) models.Tier {
	if sub == nil || sub.PlanCode == "" || sub.PlanCode == "free" {
		return models.TierFree
	}

	switch sub.Status {
	case models.SubscriptionStatusActive,
		models.SubscriptionStatusTrialing,
		models.SubscriptionStatusPastDue:
	default:
		return models.TierFree
	}

	if sub.CurrentPeriodEnd == nil || !sub.CurrentPeriodEnd.After(time.Now()) {
		return models.TierFree
	}

	if sub.Seats > 1 {
		return models.TierTeam
	}

	return models.TierPro
}
