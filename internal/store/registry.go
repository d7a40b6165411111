package store

import (
	"database/sql"

	"github.com/dukerupert/bywater/internal/model"
)

// Collection (table) names. This is the closed set of replicated
// collections; adding one means a migration, a model type, a Registry
// field, and a line in Synced.
const (
	Households        = "households"
	Members           = "members"
	Chores            = "chores"
	ChoreCompletions  = "chore_completions"
	Rewards           = "rewards"
	RewardRedemptions = "reward_redemptions"
	PointAdjustments  = "point_adjustments"
	NotificationPrefs = "notification_prefs"
)

// Registry holds the typed collection handles, resolved once at startup.
// Application code reaches collections through these fields; there is no
// runtime dispatch on collection-name strings.
type Registry struct {
	Households        *Collection[model.Household, *model.Household]
	Members           *Collection[model.Member, *model.Member]
	Chores            *Collection[model.Chore, *model.Chore]
	Completions       *Collection[model.ChoreCompletion, *model.ChoreCompletion]
	Rewards           *Collection[model.Reward, *model.Reward]
	Redemptions       *Collection[model.RewardRedemption, *model.RewardRedemption]
	Adjustments       *Collection[model.PointAdjustment, *model.PointAdjustment]
	NotificationPrefs *Collection[model.NotificationPref, *model.NotificationPref]
	Meta              *MetaStore
}

// NewRegistry binds every collection to the open database.
func NewRegistry(db *sql.DB) *Registry {
	return &Registry{
		Households:        NewCollection[model.Household, *model.Household](db, Households),
		Members:           NewCollection[model.Member, *model.Member](db, Members),
		Chores:            NewCollection[model.Chore, *model.Chore](db, Chores),
		Completions:       NewCollection[model.ChoreCompletion, *model.ChoreCompletion](db, ChoreCompletions),
		Rewards:           NewCollection[model.Reward, *model.Reward](db, Rewards),
		Redemptions:       NewCollection[model.RewardRedemption, *model.RewardRedemption](db, RewardRedemptions),
		Adjustments:       NewCollection[model.PointAdjustment, *model.PointAdjustment](db, PointAdjustments),
		NotificationPrefs: NewCollection[model.NotificationPref, *model.NotificationPref](db, NotificationPrefs),
		Meta:              NewMetaStore(db),
	}
}

// Synced returns the sync-engine view of every collection, in the order
// collections are synced.
func (r *Registry) Synced() []Synced {
	return []Synced{
		r.Households,
		r.Members,
		r.Chores,
		r.Completions,
		r.Rewards,
		r.Redemptions,
		r.Adjustments,
		r.NotificationPrefs,
	}
}
