package gormstore

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"restoran-fulfillment/internal/models"
	"restoran-fulfillment/internal/store"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type txKey struct{}

// New wires every collection to db.
func New(db *gorm.DB) *store.Store {
	return &store.Store{
		Orders:        newCollection[*models.Order](db),
		Items:         newCollection[*models.OrderItem](db),
		Queue:         newCollection[*models.KitchenQueueEntry](db),
		Tables:        newCollection[*models.Table](db),
		Reservations:  newCollection[*models.Reservation](db),
		Users:         newCollection[*models.User](db),
		AuditLogs:     newCollection[*models.AuditLog](db),
		Notifications: newCollection[*models.NotificationLog](db),
		Tx:            transactor{db: db},
	}
}

type transactor struct{ db *gorm.DB }

func (t transactor) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

type collection[T store.Record] struct {
	db *gorm.DB
}

func newCollection[T store.Record](db *gorm.DB) *collection[T] {
	return &collection[T]{db: db}
}

func (c *collection[T]) conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return c.db.WithContext(ctx)
}

func (c *collection[T]) newRecord() T {
	var zero T
	return reflect.New(reflect.TypeOf(zero).Elem()).Interface().(T)
}

func (c *collection[T]) Get(ctx context.Context, id string) (T, error) {
	rec := c.newRecord()
	if err := c.conn(ctx).First(rec, "id = ?", id).Error; err != nil {
		var zero T
		return zero, translate(err)
	}
	return rec, nil
}

func (c *collection[T]) Create(ctx context.Context, rec T) error {
	if rec.RecordID() == "" {
		rec.SetRecordID(uuid.NewString())
	}
	return translate(c.conn(ctx).Create(rec).Error)
}

func (c *collection[T]) Update(ctx context.Context, rec T) error {
	res := c.conn(ctx).Model(rec).Select("*").Updates(rec)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (c *collection[T]) List(ctx context.Context, q store.Query) ([]T, error) {
	dbq, err := apply(c.conn(ctx).Model(c.newRecord()), q)
	if err != nil {
		return nil, err
	}
	var out []T
	if err := dbq.Find(&out).Error; err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func (c *collection[T]) Count(ctx context.Context, q store.Query) (int64, error) {
	q.Limit = 0
	q.OrderBy = nil
	dbq, err := apply(c.conn(ctx).Model(c.newRecord()), q)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := dbq.Count(&n).Error; err != nil {
		return 0, translate(err)
	}
	return n, nil
}

// apply renders conditions through gorm clauses so column names are quoted
// by the dialect rather than interpolated.
func apply(dbq *gorm.DB, q store.Query) (*gorm.DB, error) {
	for _, cond := range q.Where {
		col := clause.Column{Name: cond.Field}
		switch cond.Op {
		case store.OpEq:
			dbq = dbq.Where(clause.Eq{Column: col, Value: cond.Value})
		case store.OpIn:
			values, _ := cond.Value.([]any)
			if len(values) == 0 {
				// empty set matches nothing
				dbq = dbq.Where("1 = 0")
				continue
			}
			dbq = dbq.Where(clause.IN{Column: col, Values: values})
		case store.OpIsNull:
			dbq = dbq.Where(clause.Eq{Column: col, Value: nil})
		default:
			return nil, fmt.Errorf("unsupported operator %q", cond.Op)
		}
	}
	for _, s := range q.OrderBy {
		dbq = dbq.Order(clause.OrderByColumn{Column: clause.Column{Name: s.Field}, Desc: s.Desc})
	}
	if q.Limit > 0 {
		dbq = dbq.Limit(q.Limit)
	}
	return dbq, nil
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	return err
}
