package keyedmutex

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunExclusiveRunsInArrivalOrder(t *testing.T) {
	m := New()
	order := make([]int, 0, 10)

	release := make(chan struct{})
	started := make(chan struct{})
	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = m.RunExclusive("k", func() error {
			close(started)
			<-release
			order = append(order, 0)
			return nil
		})
	}()
	<-started

	// queue the rest while the first holds the slot, in a known order
	for i := 1; i < 10; i++ {
		i := i
		queued := make(chan struct{})
		wg.Add(1)
		go func() {
			defer wg.Done()
			close(queued)
			_ = m.RunExclusive("k", func() error {
				order = append(order, i)
				return nil
			})
		}()
		<-queued
		time.Sleep(5 * time.Millisecond)
	}

	close(release)
	wg.Wait()
	require.Len(t, order, 10)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestRunExclusiveReleasesOnError(t *testing.T) {
	m := New()
	boom := errors.New("boom")
	require.ErrorIs(t, m.RunExclusive("k", func() error { return boom }), boom)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.RunExclusive("k", func() error { return nil })
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("slot was not released after an error")
	}
}

func TestRunExclusiveDifferentKeysDoNotBlock(t *testing.T) {
	m := New()
	aHeld := make(chan struct{})
	aRelease := make(chan struct{})
	go func() {
		_ = m.RunExclusive("a", func() error {
			close(aHeld)
			<-aRelease
			return nil
		})
	}()
	<-aHeld
	defer close(aRelease)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.RunExclusive("b", func() error { return nil })
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("unrelated key was blocked")
	}
}
