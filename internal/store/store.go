// Package store is the record-store boundary: typed collections of records
// keyed by id, with equality/set filters and multi-column sorting. The
// service depends only on these interfaces; gormstore and memstore provide
// the backends.
package store

import (
	"context"
	"errors"

	"restoran-fulfillment/internal/models"
)

var ErrNotFound = errors.New("record not found")

// Record is implemented by every persisted model (pointer receivers).
type Record interface {
	RecordID() string
	SetRecordID(id string)
}

type Op string

const (
	OpEq     Op = "eq"
	OpIn     Op = "in"
	OpIsNull Op = "is_null"
)

// Cond filters on a column name (gorm naming, e.g. "order_id").
type Cond struct {
	Field string
	Op    Op
	Value any
}

func Eq(field string, v any) Cond { return Cond{Field: field, Op: OpEq, Value: v} }

func In[V any](field string, vs ...V) Cond {
	values := make([]any, 0, len(vs))
	for _, v := range vs {
		values = append(values, v)
	}
	return Cond{Field: field, Op: OpIn, Value: values}
}

func IsNull(field string) Cond { return Cond{Field: field, Op: OpIsNull} }

type Sort struct {
	Field string
	Desc  bool
}

type Query struct {
	Where   []Cond
	OrderBy []Sort
	Limit   int
}

func Where(conds ...Cond) Query { return Query{Where: conds} }

func (q Query) Sorted(s ...Sort) Query {
	q.OrderBy = append(q.OrderBy, s...)
	return q
}

type Collection[T Record] interface {
	Get(ctx context.Context, id string) (T, error)
	// Create assigns a uuid when the record has no id.
	Create(ctx context.Context, rec T) error
	// Update replaces the stored record; ErrNotFound when it does not exist.
	Update(ctx context.Context, rec T) error
	List(ctx context.Context, q Query) ([]T, error)
	Count(ctx context.Context, q Query) (int64, error)
}

type Transactor interface {
	// Transact runs fn so that every collection call made with the ctx it
	// receives commits or rolls back together.
	Transact(ctx context.Context, fn func(ctx context.Context) error) error
}

type Store struct {
	Orders        Collection[*models.Order]
	Items         Collection[*models.OrderItem]
	Queue         Collection[*models.KitchenQueueEntry]
	Tables        Collection[*models.Table]
	Reservations  Collection[*models.Reservation]
	Users         Collection[*models.User]
	AuditLogs     Collection[*models.AuditLog]
	Notifications Collection[*models.NotificationLog]

	Tx Transactor
}

func (s *Store) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.Tx == nil {
		return fn(ctx)
	}
	return s.Tx.Transact(ctx, fn)
}
