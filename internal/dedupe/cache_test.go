// ABOUTME: Tests for the seen-event cache

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestSeen_FirstTimeIsNew(t *testing.T) {
	c := New(time.Minute, 100)

	if c.Seen("$evt-1") {
		t.Error("first sighting should not be a duplicate")
	}
	if !c.Seen("$evt-1") {
		t.Error("second sighting should be a duplicate")
	}
	if c.Seen("$evt-2") {
		t.Error("different key should not be a duplicate")
	}
}

func TestSeen_ExpiresAfterTTL(t *testing.T) {
	c := New(20*time.Millisecond, 100)

	if c.Seen("$evt-1") {
		t.Fatal("first sighting should not be a duplicate")
	}
	time.Sleep(40 * time.Millisecond)
	if c.Seen("$evt-1") {
		t.Error("expired entry should not count as a duplicate")
	}
}

func TestSeen_EvictsOldestAtCapacity(t *testing.T) {
	c := New(time.Minute, 3)

	for i := range 5 {
		c.Seen(fmt.Sprintf("$evt-%d", i))
	}

	if c.Len() > 3 {
		t.Errorf("cache exceeded capacity: %d entries", c.Len())
	}
	if !c.Seen("$evt-4") {
		t.Error("newest entry should still be present")
	}
}

func TestSeen_ConcurrentSameKey(t *testing.T) {
	c := New(time.Minute, 100)

	const workers = 16
	var wg sync.WaitGroup
	fresh := make(chan bool, workers)

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.Seen("$evt-racy") {
				fresh <- true
			}
		}()
	}
	wg.Wait()
	close(fresh)

	count := 0
	for range fresh {
		count++
	}
	if count != 1 {
		t.Errorf("exactly one caller should see the key as new, got %d", count)
	}
}
