package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"restoran-fulfillment/internal/clock"
	"restoran-fulfillment/internal/models"
	"restoran-fulfillment/internal/store"
)

// Actor is who triggered a transition.
type Actor struct {
	ID   string
	Role models.UserRole
}

// System is the actor for derived transitions and the sweep.
var System = Actor{ID: "system", Role: models.RoleAdmin}

type LogOptions struct {
	Actor       Actor
	EntityType  string
	EntityID    string
	Action      models.AuditAction
	Description string
	Before      any
	After       any
}

type Recorder struct {
	logs  store.Collection[*models.AuditLog]
	clock clock.Clock
}

func NewRecorder(logs store.Collection[*models.AuditLog], clk clock.Clock) *Recorder {
	if clk == nil {
		clk = clock.Real()
	}
	return &Recorder{logs: logs, clock: clk}
}

// WriteLog stores one audit row. Called inside the mutation's transaction
// so the row commits or rolls back with it.
func (r *Recorder) WriteLog(ctx context.Context, opts LogOptions) error {
	// jsonb columns need "null", not an empty string
	beforeStr := "null"
	afterStr := "null"

	if opts.Before != nil {
		if b, err := json.Marshal(opts.Before); err == nil {
			beforeStr = string(b)
		}
	}
	if opts.After != nil {
		if b, err := json.Marshal(opts.After); err == nil {
			afterStr = string(b)
		}
	}

	log := &models.AuditLog{
		CreatedAt:   r.clock.Now(),
		ActorID:     opts.Actor.ID,
		ActorRole:   opts.Actor.Role,
		EntityType:  opts.EntityType,
		EntityID:    opts.EntityID,
		Action:      opts.Action,
		Description: opts.Description,
		BeforeData:  beforeStr,
		AfterData:   afterStr,
	}

	if err := r.logs.Create(ctx, log); err != nil {
		return fmt.Errorf("audit log could not be saved: %w", err)
	}
	return nil
}

type Filter struct {
	EntityType string
	EntityID   string
	ActorID    string
	Limit      int
}

func (r *Recorder) List(ctx context.Context, f Filter) ([]*models.AuditLog, error) {
	var conds []store.Cond
	if f.EntityType != "" {
		conds = append(conds, store.Eq("entity_type", f.EntityType))
	}
	if f.EntityID != "" {
		conds = append(conds, store.Eq("entity_id", f.EntityID))
	}
	if f.ActorID != "" {
		conds = append(conds, store.Eq("actor_id", f.ActorID))
	}
	q := store.Where(conds...).Sorted(store.Sort{Field: "created_at", Desc: true})
	q.Limit = f.Limit
	return r.logs.List(ctx, q)
}
