package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2026, 10, 16, 18, 0, 0, 0, time.UTC)

func TestFakeAfterAdvancesAndRecords(t *testing.T) {
	c := NewFake(epoch)

	got := <-c.After(2 * time.Second)
	assert.Equal(t, epoch.Add(2*time.Second), got)
	<-c.After(time.Second)

	assert.Equal(t, []time.Duration{2 * time.Second, time.Second}, c.Waits())
	assert.Equal(t, epoch.Add(3*time.Second), c.Now())
}

func TestFakeTickerFiresOnAdvance(t *testing.T) {
	c := NewFake(epoch)
	tk := c.NewTicker(time.Minute)

	c.Advance(30 * time.Second)
	select {
	case <-tk.C():
		t.Fatal("ticker fired early")
	default:
	}

	c.Advance(30 * time.Second)
	select {
	case <-tk.C():
	default:
		t.Fatal("ticker did not fire")
	}

	tk.Stop()
	c.Advance(time.Minute)
	select {
	case <-tk.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}
