// Package priority computes kitchen ticket priority from order type and wait
// time. Priority is never stored; callers recompute it on every read so a
// ticket ages upward without being re-queued.
package priority

import (
	"fmt"
	"time"

	"restoran-fulfillment/internal/models"
)

const (
	Min = 1
	Max = 5

	FirstAging  = 30 * time.Minute
	SecondAging = 60 * time.Minute
)

// Base is the priority of a ticket that has not waited yet. Delivery and
// takeout rank higher: a waiting driver or walk-in customer is visible.
func Base(t models.OrderType) int {
	switch t {
	case models.OrderTypeDelivery:
		return 5
	case models.OrderTypeTakeout:
		return 4
	case models.OrderTypeDineIn:
		return 3
	}
	panic(fmt.Sprintf("priority: unknown order type %q", t))
}

// Calculate returns the priority in [Min, Max]. Aging adds one step at 30
// minutes and another at 60; the result is clamped.
func Calculate(t models.OrderType, createdAt, now time.Time) int {
	p := Base(t)
	wait := now.Sub(createdAt)
	if wait >= FirstAging {
		p++
	}
	if wait >= SecondAging {
		p++
	}
	return clamp(p)
}

func clamp(p int) int {
	if p > Max {
		return Max
	}
	if p < Min {
		return Min
	}
	return p
}
