// Package memstore is an in-process record store used for development and
// tests. Column names are resolved through gorm's schema parser so queries
// written for gormstore behave the same here.
package memstore

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"restoran-fulfillment/internal/models"
	"restoran-fulfillment/internal/store"

	"github.com/google/uuid"
	"gorm.io/gorm/schema"
)

var schemaCache sync.Map

// New returns a Store whose Transact restores every collection when fn fails.
// It gives rollback, not isolation.
func New() *store.Store {
	tx := &transactor{}
	orders := newCollection[*models.Order]()
	items := newCollection[*models.OrderItem]()
	queue := newCollection[*models.KitchenQueueEntry]()
	tables := newCollection[*models.Table]()
	reservations := newCollection[*models.Reservation]()
	users := newCollection[*models.User]()
	audits := newCollection[*models.AuditLog]()
	notifications := newCollection[*models.NotificationLog]()
	tx.parts = []snapshotter{orders, items, queue, tables, reservations, users, audits, notifications}

	return &store.Store{
		Orders:        orders,
		Items:         items,
		Queue:         queue,
		Tables:        tables,
		Reservations:  reservations,
		Users:         users,
		AuditLogs:     audits,
		Notifications: notifications,
		Tx:            tx,
	}
}

type snapshotter interface {
	snapshot() any
	restore(any)
}

type txKey struct{}

type transactor struct {
	mu    sync.Mutex
	parts []snapshotter
}

func (t *transactor) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	snaps := make([]any, len(t.parts))
	for i, p := range t.parts {
		snaps[i] = p.snapshot()
	}
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		for i, p := range t.parts {
			p.restore(snaps[i])
		}
		return err
	}
	return nil
}

type collection[T store.Record] struct {
	mu     sync.RWMutex
	rows   map[string]T
	seq    map[string]int // insertion order, tie-breaker for stable listing
	next   int
	schema *schema.Schema
}

func newCollection[T store.Record]() *collection[T] {
	var zero T
	sch, err := schema.Parse(reflect.New(reflect.TypeOf(zero).Elem()).Interface(), &schemaCache, schema.NamingStrategy{})
	if err != nil {
		panic(fmt.Sprintf("memstore: parse schema: %v", err))
	}
	return &collection[T]{rows: make(map[string]T), seq: make(map[string]int), schema: sch}
}

// clone copies the struct value; pointer fields are shared, callers replace
// rather than mutate them.
func clone[T store.Record](rec T) T {
	v := reflect.ValueOf(rec)
	out := reflect.New(v.Elem().Type())
	out.Elem().Set(v.Elem())
	return out.Interface().(T)
}

func (c *collection[T]) snapshot() any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rows := make(map[string]T, len(c.rows))
	for k, v := range c.rows {
		rows[k] = v
	}
	seq := make(map[string]int, len(c.seq))
	for k, v := range c.seq {
		seq[k] = v
	}
	return [2]any{rows, seq}
}

func (c *collection[T]) restore(s any) {
	pair := s.([2]any)
	c.mu.Lock()
	c.rows = pair[0].(map[string]T)
	c.seq = pair[1].(map[string]int)
	c.mu.Unlock()
}

func (c *collection[T]) Get(_ context.Context, id string) (T, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.rows[id]
	if !ok {
		var zero T
		return zero, store.ErrNotFound
	}
	return clone(rec), nil
}

func (c *collection[T]) Create(_ context.Context, rec T) error {
	if rec.RecordID() == "" {
		rec.SetRecordID(uuid.NewString())
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.rows[rec.RecordID()]; exists {
		return fmt.Errorf("duplicate key %q", rec.RecordID())
	}
	c.rows[rec.RecordID()] = clone(rec)
	c.seq[rec.RecordID()] = c.next
	c.next++
	return nil
}

func (c *collection[T]) Update(_ context.Context, rec T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rows[rec.RecordID()]; !ok {
		return store.ErrNotFound
	}
	c.rows[rec.RecordID()] = clone(rec)
	return nil
}

func (c *collection[T]) List(ctx context.Context, q store.Query) ([]T, error) {
	c.mu.RLock()
	out := make([]T, 0, len(c.rows))
	seq := make(map[string]int, len(c.rows))
	for id, rec := range c.rows {
		ok, err := c.matches(ctx, rec, q.Where)
		if err != nil {
			c.mu.RUnlock()
			return nil, err
		}
		if ok {
			out = append(out, clone(rec))
			seq[id] = c.seq[id]
		}
	}
	c.mu.RUnlock()

	var sortErr error
	sort.SliceStable(out, func(i, j int) bool {
		for _, s := range q.OrderBy {
			a, err := c.value(ctx, out[i], s.Field)
			if err != nil {
				sortErr = err
				return false
			}
			b, err := c.value(ctx, out[j], s.Field)
			if err != nil {
				sortErr = err
				return false
			}
			cmp := compare(a, b)
			if cmp == 0 {
				continue
			}
			if s.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return seq[out[i].RecordID()] < seq[out[j].RecordID()]
	})
	if sortErr != nil {
		return nil, sortErr
	}

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (c *collection[T]) Count(ctx context.Context, q store.Query) (int64, error) {
	q.Limit = 0
	q.OrderBy = nil
	rows, err := c.List(ctx, q)
	return int64(len(rows)), err
}

func (c *collection[T]) matches(ctx context.Context, rec T, conds []store.Cond) (bool, error) {
	for _, cond := range conds {
		v, err := c.value(ctx, rec, cond.Field)
		if err != nil {
			return false, err
		}
		switch cond.Op {
		case store.OpEq:
			if compare(v, normalize(cond.Value)) != 0 {
				return false, nil
			}
		case store.OpIn:
			values, _ := cond.Value.([]any)
			found := false
			for _, want := range values {
				if compare(v, normalize(want)) == 0 {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		case store.OpIsNull:
			if v != nil {
				return false, nil
			}
		default:
			return false, fmt.Errorf("unsupported operator %q", cond.Op)
		}
	}
	return true, nil
}

func (c *collection[T]) value(ctx context.Context, rec T, field string) (any, error) {
	f := c.schema.LookUpField(field)
	if f == nil {
		return nil, fmt.Errorf("unknown column %q on %s", field, c.schema.Table)
	}
	v, _ := f.ValueOf(ctx, reflect.ValueOf(rec).Elem())
	return normalize(v), nil
}

// normalize folds named string/int types, pointers and nils into a small set
// of comparable kinds: nil, string, int64, float64, bool, time.Time.
func normalize(v any) any {
	if v == nil {
		return nil
	}
	if t, ok := v.(time.Time); ok {
		return t
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if t, ok := rv.Interface().(time.Time); ok {
		return t
	}
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Bool:
		return rv.Bool()
	}
	return rv.Interface()
}

// compare orders nil first; values of different kinds compare by kind name.
func compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	case int64:
		if y, ok := b.(int64); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
		if y, ok := b.(float64); ok {
			return compare(float64(x), y)
		}
	case float64:
		if y, ok := b.(float64); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
		if y, ok := b.(int64); ok {
			return compare(x, float64(y))
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			}
			return 1
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	}
	ka, kb := fmt.Sprintf("%T", a), fmt.Sprintf("%T", b)
	switch {
	case ka < kb:
		return -1
	case ka > kb:
		return 1
	}
	return 0
}
