package runtime

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

func TestRegistryStopCancelsAndRemoves(t *testing.T) {
	r := NewRegistry()
	ctx, release := r.Start(context.Background(), "resp-1")
	defer release()

	if !r.IsActive("resp-1") {
		t.Fatalf("expected resp-1 to be active")
	}
	if !r.Stop("resp-1") {
		t.Fatalf("expected stop to report an active handle")
	}
	if ctx.Err() == nil {
		t.Fatalf("expected context to be cancelled")
	}
	if r.IsActive("resp-1") {
		t.Fatalf("expected resp-1 to be removed")
	}
}

func TestRegistryStopUnknownIsNoop(t *testing.T) {
	r := NewRegistry()
	if r.Stop("missing") {
		t.Fatalf("expected stop of unknown id to report false")
	}
	_, release := r.Start(context.Background(), "once")
	release()
	if r.Stop("once") || r.Stop("once") {
		t.Fatalf("expected stop after release to be a no-op")
	}
}

func TestRegistryRegisterReplacesExisting(t *testing.T) {
	r := NewRegistry()
	first, releaseFirst := r.Start(context.Background(), "resp")
	second, releaseSecond := r.Start(context.Background(), "resp")
	defer releaseSecond()

	if first.Err() == nil {
		t.Fatalf("expected the replaced handle to be cancelled")
	}
	if second.Err() != nil {
		t.Fatalf("expected the new handle to stay live")
	}

	// The replaced run finishing must not unregister its replacement.
	releaseFirst()
	if !r.IsActive("resp") {
		t.Fatalf("expected replacement to remain registered")
	}
}

func TestRegistryConcurrentUse(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("resp-%d", i%5)
			_, release := r.Start(context.Background(), id)
			_ = r.IsActive(id)
			if i%2 == 0 {
				r.Stop(id)
			}
			release()
		}(i)
	}
	wg.Wait()

	for i := 0; i < 5; i++ {
		if r.IsActive(fmt.Sprintf("resp-%d", i)) {
			t.Fatalf("expected all handles released")
		}
	}
}

func TestRegistryStopAll(t *testing.T) {
	r := NewRegistry()
	a, _ := r.Start(context.Background(), "a")
	b, _ := r.Start(context.Background(), "b")
	r.StopAll()
	if a.Err() == nil || b.Err() == nil {
		t.Fatalf("expected every handle cancelled")
	}
	if r.IsActive("a") || r.IsActive("b") {
		t.Fatalf("expected registry to be empty")
	}
}
