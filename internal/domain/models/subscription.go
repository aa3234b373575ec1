package models

import "time"

// Subscription statuses as reported by the billing collaborator.
const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusTrialing = "trialing"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "canceled"
)

// Tier is the authorization tier derived from a subscription snapshot.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
	TierTeam Tier = "team"
)

// Subscription is a read-only snapshot of a user's billing state.
// It is owned by the billing service; this service only reads it.
type Subscription struct {
	UserID           int64
	Status           string
	PlanCode         string
	Seats            int
	CurrentPeriodEnd *time.Time
}
