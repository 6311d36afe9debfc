package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeClock_StandsStill(t *testing.T) {
	c := NewFakeClock(epoch)
	assert.Equal(t, epoch, c.Now())
	assert.Equal(t, epoch, c.Now())
}

func TestFakeClock_AdvanceAndSet(t *testing.T) {
	c := NewFakeClock(epoch)
	assert.Equal(t, epoch.Add(time.Minute), c.Advance(time.Minute))
	assert.Equal(t, epoch.Add(time.Minute), c.Now())

	c.Set(epoch.Add(-time.Hour))
	assert.Equal(t, epoch.Add(-time.Hour), c.Now())
}

func TestFakeClock_Concurrent(t *testing.T) {
	c := NewFakeClock(epoch)
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Advance(time.Second)
			_ = c.Now()
		}()
	}
	wg.Wait()
	assert.Equal(t, epoch.Add(50*time.Second), c.Now())
}
