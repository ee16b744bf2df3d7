package playback

import (
	"context"
	"errors"
	"testing"
)

type stubAPI struct{}

func (stubAPI) GetCurrentTime(context.Context) (float64, error) { return 0, nil }
func (stubAPI) GetDuration(context.Context) (float64, error)    { return 0, nil }

func TestEmbedAPILoader_LazyInitAndTeardown(t *testing.T) {
	inits, teardowns := 0, 0
	loader := NewEmbedAPILoader(func(context.Context) (EmbedControlAPI, func() error, error) {
		inits++
		return stubAPI{}, func() error { teardowns++; return nil }, nil
	})

	if loader.Refs() != 0 {
		t.Fatalf("expected 0 refs before first acquire, got %d", loader.Refs())
	}

	api1, rel1, err := loader.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if api1 == nil {
		t.Fatal("expected api handle")
	}
	if inits != 1 {
		t.Fatalf("expected lazy single init, got %d", inits)
	}

	_, rel2, err := loader.Acquire(context.Background())
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if inits != 1 {
		t.Fatalf("second acquire must reuse handle, inits=%d", inits)
	}
	if loader.Refs() != 2 {
		t.Fatalf("expected 2 refs, got %d", loader.Refs())
	}

	rel1()
	if teardowns != 0 {
		t.Fatal("teardown fired while a holder remains")
	}
	rel2()
	if teardowns != 1 {
		t.Fatalf("expected teardown when last holder released, got %d", teardowns)
	}
	if loader.Refs() != 0 {
		t.Fatalf("expected 0 refs after teardown, got %d", loader.Refs())
	}
}

func TestEmbedAPILoader_ReleaseIdempotent(t *testing.T) {
	teardowns := 0
	loader := NewEmbedAPILoader(func(context.Context) (EmbedControlAPI, func() error, error) {
		return stubAPI{}, func() error { teardowns++; return nil }, nil
	})

	_, rel1, _ := loader.Acquire(context.Background())
	_, rel2, _ := loader.Acquire(context.Background())

	rel1()
	rel1() // double release must not steal the remaining ref
	if teardowns != 0 {
		t.Fatal("teardown fired after double release of one holder")
	}
	rel2()
	if teardowns != 1 {
		t.Fatalf("expected 1 teardown, got %d", teardowns)
	}
}

func TestEmbedAPILoader_ReacquireAfterTeardown(t *testing.T) {
	inits := 0
	loader := NewEmbedAPILoader(func(context.Context) (EmbedControlAPI, func() error, error) {
		inits++
		return stubAPI{}, func() error { return nil }, nil
	})

	_, rel, _ := loader.Acquire(context.Background())
	rel()

	_, rel2, err := loader.Acquire(context.Background())
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	if inits != 2 {
		t.Fatalf("expected re-init after full teardown, inits=%d", inits)
	}
	rel2()
}

func TestEmbedAPILoader_InitFailure(t *testing.T) {
	wantErr := errors.New("script load failed")
	loader := NewEmbedAPILoader(func(context.Context) (EmbedControlAPI, func() error, error) {
		return nil, nil, wantErr
	})

	_, _, err := loader.Acquire(context.Background())
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected init error, got %v", err)
	}
	if loader.Refs() != 0 {
		t.Fatalf("failed init must not hold a ref, got %d", loader.Refs())
	}
}

func TestEmbedPlayerSource_RefreshCaches(t *testing.T) {
	api := &scriptedAPI{cur: 42, dur: 120}
	src := NewEmbedPlayerSource(api)

	if src.Duration() != 0 {
		t.Fatal("expected zero duration before first refresh")
	}
	if err := src.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if src.CurrentTime() != 42 || src.Duration() != 120 {
		t.Fatalf("expected cached 42/120, got %v/%v", src.CurrentTime(), src.Duration())
	}

	api.err = errors.New("bridge gone")
	if err := src.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}
	// Last good readings survive a failed refresh.
	if src.CurrentTime() != 42 || src.Duration() != 120 {
		t.Fatal("failed refresh must not clobber cached readings")
	}
}

func TestEmbedPlayerSource_NotReady(t *testing.T) {
	api := &scriptedAPI{err: ErrSourceNotReady}
	src := NewEmbedPlayerSource(api)

	err := src.Refresh(context.Background())
	if !errors.Is(err, ErrSourceNotReady) {
		t.Fatalf("expected ErrSourceNotReady, got %v", err)
	}
	if src.CurrentTime() != 0 || src.Duration() != 0 {
		t.Fatal("no readings should be cached before the source is ready")
	}
}

type scriptedAPI struct {
	cur, dur float64
	err      error
}

func (a *scriptedAPI) GetCurrentTime(context.Context) (float64, error) { return a.cur, a.err }
func (a *scriptedAPI) GetDuration(context.Context) (float64, error)    { return a.dur, a.err }
