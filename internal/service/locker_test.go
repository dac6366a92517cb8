package service_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"collaborative-editor/internal/service"
)

func TestRoomLocker_SerializesSameRoom(t *testing.T) {
	locker := service.NewRoomLocker()
	var (
		wg      sync.WaitGroup
		active  int32
		maxSeen int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locker.Lock("r1")
			defer unlock()
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen, "同一房间同一时刻只能有一个持有者")
	assert.Equal(t, 0, locker.Size(), "空闲后锁对象应被回收")
}

func TestRoomLocker_DifferentRoomsDoNotBlock(t *testing.T) {
	locker := service.NewRoomLocker()
	unlockA := locker.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := locker.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("locking room b should not wait for room a")
	}
}

func TestRoomLocker_UnlockIsIdempotent(t *testing.T) {
	locker := service.NewRoomLocker()
	unlock := locker.Lock("r1")
	unlock()
	unlock()

	assert.Equal(t, 0, locker.Size())
	again := locker.Lock("r1")
	again()
}
