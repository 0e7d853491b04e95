package channeltable

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitWithNoSubscribersReturnsZero(t *testing.T) {
	tbl := New(100, 1024)
	n := tbl.Emit(uuid.New(), "repo:delta", []byte("hello"))
	assert.Equal(t, 0, n)
}

func TestSubscribeThenEmitDelivers(t *testing.T) {
	tbl := New(100, 1024)
	project := uuid.New()

	sub, history := tbl.Subscribe(project, "repo:delta")
	defer sub.Close()
	assert.Empty(t, history)

	n := tbl.Emit(project, "repo:delta", []byte("msg-1"))
	assert.Equal(t, 1, n)

	select {
	case got := <-sub.Messages:
		assert.Equal(t, "msg-1", string(got))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestHistorySnapshotPrecedesLiveSubscription(t *testing.T) {
	tbl := New(100, 1024)
	project := uuid.New()

	tbl.Emit(project, "repo:delta", []byte("before-1"))
	tbl.Emit(project, "repo:delta", []byte("before-2"))

	sub, history := tbl.Subscribe(project, "repo:delta")
	defer sub.Close()

	require.Len(t, history, 2)
	assert.Equal(t, "before-1", string(history[0]))
	assert.Equal(t, "before-2", string(history[1]))

	tbl.Emit(project, "repo:delta", []byte("after-1"))
	select {
	case got := <-sub.Messages:
		assert.Equal(t, "after-1", string(got))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestReplayBufferDropsOldestBeyondCapacity(t *testing.T) {
	tbl := New(3, 1024)
	project := uuid.New()

	for i := 0; i < 5; i++ {
		tbl.Emit(project, "log", []byte{byte('a' + i)})
	}

	_, history := tbl.Subscribe(project, "log")
	require.Len(t, history, 3)
	assert.Equal(t, []byte{'c'}, history[0])
	assert.Equal(t, []byte{'d'}, history[1])
	assert.Equal(t, []byte{'e'}, history[2])
}

func TestChannelsIsolatedByProjectAndTopic(t *testing.T) {
	tbl := New(100, 1024)
	p1, p2 := uuid.New(), uuid.New()

	tbl.Emit(p1, "topic-a", []byte("p1-a"))
	tbl.Emit(p2, "topic-a", []byte("p2-a"))
	tbl.Emit(p1, "topic-b", []byte("p1-b"))

	assert.Equal(t, []string{"topic-a", "topic-b"}, tbl.ListChannels(p1))
	assert.Equal(t, []string{"topic-a"}, tbl.ListChannels(p2))
}

func TestChannelStatsReportsReplayAndSubscriberCounts(t *testing.T) {
	tbl := New(100, 1024)
	project := uuid.New()

	tbl.Emit(project, "alpha", []byte("1"))
	tbl.Emit(project, "alpha", []byte("2"))
	sub, _ := tbl.Subscribe(project, "alpha")
	defer sub.Close()

	stats := tbl.ChannelStats(project)
	require.Len(t, stats, 1)
	assert.Equal(t, "alpha", stats[0].Topic)
	assert.Equal(t, 2, stats[0].ReplayLen)
	assert.Equal(t, 1, stats[0].SubscriberCount)
}

func TestClearAllClosesSubscribersAndDropsHistory(t *testing.T) {
	tbl := New(100, 1024)
	project := uuid.New()
	tbl.Emit(project, "topic", []byte("1"))
	sub, _ := tbl.Subscribe(project, "topic")

	tbl.ClearAll()

	_, ok := <-sub.Messages
	assert.False(t, ok, "subscriber channel should be closed")
	assert.Empty(t, tbl.ListChannels(project))
}

func TestLaggingSubscriberDoesNotBlockEmitter(t *testing.T) {
	tbl := New(100, 2)
	project := uuid.New()

	sub, _ := tbl.Subscribe(project, "fast")
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			tbl.Emit(project, "fast", []byte{byte(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("emit blocked on a slow subscriber")
	}
}

func TestConcurrentEmittersAndSubscribersDoNotRace(t *testing.T) {
	tbl := New(50, 256)
	project := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				tbl.Emit(project, "churn", []byte{byte(n)})
			}
		}(i)
	}

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub, _ := tbl.Subscribe(project, "churn")
			defer sub.Close()
			for {
				select {
				case _, ok := <-sub.Messages:
					if !ok {
						return
					}
				case <-time.After(50 * time.Millisecond):
					return
				}
			}
		}()
	}

	wg.Wait()
}
