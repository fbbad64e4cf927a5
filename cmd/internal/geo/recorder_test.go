package geo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLocator struct {
	mu    sync.Mutex
	calls int
	err   error
	block chan struct{}
}

func (f *fakeLocator) Lookup(ctx context.Context, ip string) (Info, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return Info{}, ctx.Err()
		}
	}
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return Info{}, f.err
	}
	return Info{IP: ip, CountryCode: "GB", City: "London"}, nil
}

type outcomes struct {
	mu  sync.Mutex
	got []string
}

func (o *outcomes) add(s string) {
	o.mu.Lock()
	o.got = append(o.got, s)
	o.mu.Unlock()
}

func (o *outcomes) list() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.got...)
}

func TestRecorder_RecordsAndDedupes(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	loc := &fakeLocator{}
	r := NewRecorder(loc, store, RecorderConfig{Workers: 1, QueueSize: 8}, quietLogger())
	var seen outcomes
	r.OnResult = seen.add
	r.Start(context.Background())

	r.RecordLogin("u1", "81.2.69.142")
	r.RecordLogin("u1", "81.2.69.142")
	r.RecordLogin("u1", "127.0.0.1")
	r.Close()

	locs, err := store.ListLocations(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, "London", locs[0].City)
	assert.Len(t, store.IPAddresses(), 1)
	assert.ElementsMatch(t, []string{"skipped", "ok", "ok"}, seen.list())
}

func TestRecorder_DropsWhenQueueFull(t *testing.T) {
	t.Parallel()

	loc := &fakeLocator{block: make(chan struct{})}
	r := NewRecorder(loc, NewMemoryStore(), RecorderConfig{Workers: 1, QueueSize: 1, JobTimeout: time.Second}, quietLogger())
	var seen outcomes
	r.OnResult = seen.add

	// Workers are not started, so the single slot fills immediately.
	r.RecordLogin("u1", "81.2.69.142")
	done := make(chan struct{})
	go func() {
		r.RecordLogin("u1", "81.2.69.143")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RecordLogin blocked on a full queue")
	}
	assert.Equal(t, []string{"dropped"}, seen.list())

	close(loc.block)
	r.Start(context.Background())
	r.Close()
}

func TestRecorder_LookupFailureIsReported(t *testing.T) {
	t.Parallel()

	loc := &fakeLocator{err: errors.New("boom")}
	store := NewMemoryStore()
	r := NewRecorder(loc, store, RecorderConfig{Workers: 1, QueueSize: 4}, quietLogger())
	var seen outcomes
	r.OnResult = seen.add
	r.Start(context.Background())
	r.RecordLogin("u1", "81.2.69.142")
	r.Close()

	assert.Equal(t, []string{"failed"}, seen.list())
	locs, _ := store.ListLocations(context.Background(), "u1")
	assert.Empty(t, locs)
}
