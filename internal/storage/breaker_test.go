package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"modeldrop/internal/logging"
)

// flakyStore fails every call while down is set.
type flakyStore struct {
	*Memory
	mu    sync.Mutex
	down  bool
	calls int
}

var errBackendDown = errors.New("backend down")

func (f *flakyStore) hit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.down {
		return errBackendDown
	}
	return nil
}

func (f *flakyStore) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *flakyStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *flakyStore) Ping(ctx context.Context) error { return f.hit() }

func (f *flakyStore) List(ctx context.Context, prefix string) ([]Object, error) {
	if err := f.hit(); err != nil {
		return nil, err
	}
	return f.Memory.List(ctx, prefix)
}

func newTestBreaker(t *testing.T, maxFailures uint32) (*Breaker, *flakyStore, *time.Time) {
	t.Helper()
	logging.SetOutput(io.Discard)
	inner := &flakyStore{Memory: NewMemory("memory://models")}
	b := NewBreaker(inner, maxFailures, 30*time.Second)
	now := time.Unix(1700000000, 0)
	b.now = func() time.Time { return now }
	return b, inner, &now
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b, inner, _ := newTestBreaker(t, 3)
	ctx := context.Background()
	inner.setDown(true)

	for i := 0; i < 3; i++ {
		if err := b.Ping(ctx); !errors.Is(err, errBackendDown) {
			t.Fatalf("call %d: err = %v, want backend error", i+1, err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	if err := b.Ping(ctx); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if got := inner.callCount(); got != 3 {
		t.Errorf("backend saw %d calls, want 3", got)
	}
	if s := b.Stats(); s.Rejected != 1 || s.State != "open" {
		t.Errorf("stats = %+v", s)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, inner, _ := newTestBreaker(t, 2)
	ctx := context.Background()

	inner.setDown(true)
	_ = b.Ping(ctx)
	inner.setDown(false)
	_ = b.Ping(ctx)
	inner.setDown(true)
	_ = b.Ping(ctx)

	if b.State() != StateClosed {
		t.Errorf("state = %v, failures were not consecutive", b.State())
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b, inner, now := newTestBreaker(t, 1)
	ctx := context.Background()

	inner.setDown(true)
	_ = b.Ping(ctx)
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	// Probe fails: straight back to open.
	*now = now.Add(31 * time.Second)
	if err := b.Ping(ctx); !errors.Is(err, errBackendDown) {
		t.Fatalf("probe err = %v", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("state after failed probe = %v, want open", b.State())
	}

	// Probe succeeds: closed again.
	*now = now.Add(31 * time.Second)
	inner.setDown(false)
	if _, err := b.List(ctx, ""); err != nil {
		t.Fatalf("probe err = %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("state after good probe = %v, want closed", b.State())
	}
}

func TestBreaker_CancelledCallsDoNotCount(t *testing.T) {
	b, _, _ := newTestBreaker(t, 1)
	b.inner = cancelStore{Memory: NewMemory("memory://models")}

	_ = b.Ping(context.Background())
	if b.State() != StateClosed {
		t.Errorf("state = %v, a cancelled caller must not open the circuit", b.State())
	}
}

type cancelStore struct{ *Memory }

func (cancelStore) Ping(context.Context) error { return context.Canceled }

func TestBreaker_PassesThroughLocalCalls(t *testing.T) {
	b, inner, _ := newTestBreaker(t, 1)
	ctx := context.Background()

	if err := b.Put(ctx, "cube.glb", strings.NewReader("x"), 1, "model/gltf-binary"); err != nil {
		t.Fatal(err)
	}
	inner.setDown(true)
	_ = b.Ping(ctx)

	if got, want := b.ObjectURL("cube.glb"), "memory://models/cube.glb"; got != want {
		t.Errorf("ObjectURL = %q, want %q", got, want)
	}
	if _, err := b.PresignGet(ctx, "cube.glb", time.Minute); err != nil {
		t.Errorf("PresignGet while open: %v", err)
	}
	if err := b.Delete(ctx, "cube.glb"); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Delete while open: err = %v, want ErrCircuitOpen", err)
	}
}
