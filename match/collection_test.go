package match

import (
	"context"
	"errors"
	"fmt"
	mathrand "math/rand"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)


func TestCollectionUnique(t *testing.T) {
	collection := NewCollection[*User]("test", LoadAlways, nil, testCollectionSettings())

	// duplicates in a replace keep the first position
	collection.ReplaceAll(testUsers("a", "b", "a", "c", "b"))
	assert.Equal(t, userIds(collection.Items()), []Id{"a", "b", "c"})

	assert.Equal(t, collection.Add(testUser("c")), false)
	assert.Equal(t, collection.Add(testUser("d")), true)
	assert.Equal(t, userIds(collection.Items()), []Id{"a", "b", "c", "d"})

	r := mathrand.New(mathrand.NewSource(0))
	for i := 0; i < 1000; i += 1 {
		switch r.Intn(3) {
		case 0:
			n := r.Intn(8)
			users := []*User{}
			for j := 0; j < n; j += 1 {
				users = append(users, testUser(fmt.Sprintf("%d", r.Intn(5))))
			}
			collection.ReplaceAll(users)
		case 1:
			collection.RemoveById(Id(fmt.Sprintf("%d", r.Intn(5))))
		case 2:
			collection.Add(testUser(fmt.Sprintf("%d", r.Intn(5))))
		}

		seen := map[Id]bool{}
		for _, user := range collection.Items() {
			assert.Equal(t, seen[user.Id], false)
			seen[user.Id] = true
		}
	}
}

func TestCollectionRemoveIdempotent(t *testing.T) {
	collection := NewCollection[*User]("test", LoadAlways, nil, testCollectionSettings())
	collection.ReplaceAll(testUsers("a", "b", "c"))

	changeCount := 0
	unsub := collection.AddChangeCallback(func(items []*User, state CollectionState) {
		changeCount += 1
	})
	defer unsub()

	assert.Equal(t, collection.RemoveById("b"), true)
	assert.Equal(t, collection.RemoveById("b"), false)
	assert.Equal(t, userIds(collection.Items()), []Id{"a", "c"})
	assert.Equal(t, changeCount, 1)

	assert.Equal(t, collection.RemoveById("missing"), false)
	assert.Equal(t, changeCount, 1)
}

func TestCollectionStates(t *testing.T) {
	collection := NewCollection[*User]("test", LoadAlways, nil, testCollectionSettings())
	assert.Equal(t, collection.State(), CollectionUnloaded)

	collection.Clear()
	assert.Equal(t, collection.State(), CollectionEmpty)

	collection.ReplaceAll(testUsers("a"))
	assert.Equal(t, collection.State(), CollectionNonEmpty)

	collection.RemoveById("a")
	assert.Equal(t, collection.State(), CollectionEmpty)

	collection.Unload()
	assert.Equal(t, collection.State(), CollectionUnloaded)
	assert.Equal(t, collection.Len(), 0)
}

func TestCollectionLoadOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetchCount := 0
	collection := NewCollection[*User]("feed", LoadOnce, func(ctx context.Context) ([]*User, error) {
		fetchCount += 1
		return testUsers("a", "b"), nil
	}, testCollectionSettings())

	assert.Equal(t, collection.Load(ctx), nil)
	collection.RemoveById("a")
	assert.Equal(t, collection.Load(ctx), nil)
	assert.Equal(t, fetchCount, 1)
	assert.Equal(t, userIds(collection.Items()), []Id{"b"})

	// loaded-empty is still loaded
	collection.RemoveById("b")
	assert.Equal(t, collection.Load(ctx), nil)
	assert.Equal(t, fetchCount, 1)

	collection.Unload()
	assert.Equal(t, collection.Load(ctx), nil)
	assert.Equal(t, fetchCount, 2)
	assert.Equal(t, userIds(collection.Items()), []Id{"a", "b"})
}

func TestCollectionLoadAlways(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetchCount := 0
	collection := NewCollection[*User]("connections", LoadAlways, func(ctx context.Context) ([]*User, error) {
		fetchCount += 1
		if fetchCount == 1 {
			return testUsers("a"), nil
		}
		return testUsers("a", "b"), nil
	}, testCollectionSettings())

	assert.Equal(t, collection.Load(ctx), nil)
	assert.Equal(t, collection.Load(ctx), nil)
	assert.Equal(t, fetchCount, 2)
	assert.Equal(t, userIds(collection.Items()), []Id{"a", "b"})
}

func TestCollectionLoadErrorKeepsContent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fail := false
	fetchCount := 0
	collection := NewCollection[*User]("connections", LoadAlways, func(ctx context.Context) ([]*User, error) {
		fetchCount += 1
		if fail {
			return nil, &ApiError{Method: "GET", Path: "/user/connections", StatusCode: http.StatusBadRequest}
		}
		return testUsers("a", "b"), nil
	}, testCollectionSettings())

	assert.Equal(t, collection.Load(ctx), nil)
	assert.Equal(t, collection.Err(), nil)

	fail = true
	err := collection.Load(ctx)
	assert.NotEqual(t, err, nil)
	assert.Equal(t, collection.Err(), err)
	assert.Equal(t, userIds(collection.Items()), []Id{"a", "b"})
	// a 4xx is not retried
	assert.Equal(t, fetchCount, 2)

	fail = false
	assert.Equal(t, collection.Load(ctx), nil)
	assert.Equal(t, collection.Err(), nil)
}

func TestCollectionLoadRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetchCount := 0
	collection := NewCollection[*User]("feed", LoadOnce, func(ctx context.Context) ([]*User, error) {
		fetchCount += 1
		if fetchCount < 3 {
			return nil, &ApiError{Method: "GET", Path: "/feed", StatusCode: http.StatusServiceUnavailable}
		}
		return testUsers("a"), nil
	}, testCollectionSettings())

	assert.Equal(t, collection.Load(ctx), nil)
	assert.Equal(t, fetchCount, 3)
	assert.Equal(t, collection.State(), CollectionNonEmpty)

	// the retry chain stops after the max tries
	fetchCount = 0
	exhausted := NewCollection[*User]("feed", LoadOnce, func(ctx context.Context) ([]*User, error) {
		fetchCount += 1
		return nil, &ApiError{Method: "GET", Path: "/feed", StatusCode: http.StatusBadGateway}
	}, testCollectionSettings())
	err := exhausted.Load(ctx)
	var apiErr *ApiError
	assert.Equal(t, errors.As(err, &apiErr), true)
	assert.Equal(t, apiErr.StatusCode, http.StatusBadGateway)
	assert.Equal(t, fetchCount, 3)
	assert.Equal(t, exhausted.State(), CollectionUnloaded)
}

func TestCollectionConcurrentLoad(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	release := make(chan struct{})
	var fetchLock sync.Mutex
	fetchCount := 0
	collection := NewCollection[*User]("connections", LoadAlways, func(ctx context.Context) ([]*User, error) {
		fetchLock.Lock()
		fetchCount += 1
		fetchLock.Unlock()
		<-release
		return testUsers("a"), nil
	}, testCollectionSettings())

	n := 8
	var wg sync.WaitGroup
	for i := 0; i < n; i += 1 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, collection.Load(ctx), nil)
		}()
	}
	waitFor(t, collection.Loading)
	// let the joiners arrive
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	// one chain at a time. Late arrivals may start a second chain after the first ends
	fetchLock.Lock()
	assert.Equal(t, fetchCount <= 2, true)
	fetchLock.Unlock()
	assert.Equal(t, userIds(collection.Items()), []Id{"a"})
}

func TestCollectionDropLateResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	release := make(chan struct{})
	collection := NewCollection[*User]("feed", LoadOnce, func(ctx context.Context) ([]*User, error) {
		<-release
		return testUsers("a"), nil
	}, testCollectionSettings())

	// unload while in flight
	loadErr := make(chan error, 1)
	go func() {
		loadErr <- collection.Load(ctx)
	}()
	waitFor(t, collection.Loading)
	collection.Unload()
	close(release)
	assert.Equal(t, errors.Is(<-loadErr, ErrMountClosed), true)
	assert.Equal(t, collection.State(), CollectionUnloaded)

	// requester gone
	release = make(chan struct{})
	mountCtx, mountCancel := context.WithCancel(ctx)
	go func() {
		loadErr <- collection.Load(mountCtx)
	}()
	waitFor(t, collection.Loading)
	mountCancel()
	close(release)
	assert.NotEqual(t, <-loadErr, nil)
	assert.Equal(t, collection.State(), CollectionUnloaded)
}

func TestCollectionPanicContained(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	collection := NewCollection[*User]("feed", LoadOnce, func(ctx context.Context) ([]*User, error) {
		panic("bad fetch")
	}, testCollectionSettings())
	err := collection.Load(ctx)
	assert.NotEqual(t, err, nil)
	assert.Equal(t, collection.Err(), err)

	collection.ReplaceAll(testUsers("a"))
	unsub := collection.AddChangeCallback(func(items []*User, state CollectionState) {
		panic("bad listener")
	})
	defer unsub()
	assert.Equal(t, collection.RemoveById("a"), true)
	assert.Equal(t, collection.State(), CollectionEmpty)
}
