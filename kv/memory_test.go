package kv

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
)

func TestMemoryReadMissingIsNotError(t *testing.T) {
	m := NewMemory()
	value, ok, err := m.Read(context.Background(), "absent")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if ok || value != "" {
		t.Fatalf("expected missing key, got %q ok=%v", value, ok)
	}
}

func TestMemoryWriteReadDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.Write(ctx, "k", "v1"); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	value, ok, err := m.Read(ctx, "k")
	if err != nil || !ok || value != "v1" {
		t.Fatalf("expected v1, got %q ok=%v err=%v", value, ok, err)
	}
	if err := m.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := m.Delete(ctx, "k"); err != nil {
		t.Fatalf("second delete should be a no-op, got %v", err)
	}
	if m.Len() != 0 {
		t.Fatalf("expected empty store, got %d keys", m.Len())
	}
}

func TestMemoryUpdateAbortDoesNotWrite(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Write(ctx, "k", "keep")

	boom := errors.New("boom")
	err := m.Update(ctx, "k", func(current string, ok bool) (string, error) {
		return "changed", boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	value, _, _ := m.Read(ctx, "k")
	if value != "keep" {
		t.Fatalf("aborted update must not write, got %q", value)
	}
}

func TestMemoryConcurrentUpdatesNoLostWrites(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	const n = 64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_ = m.Update(ctx, "counter", func(current string, ok bool) (string, error) {
				v := 0
				if ok {
					v, _ = strconv.Atoi(current)
				}
				return strconv.Itoa(v + 1), nil
			})
		}()
	}
	wg.Wait()

	value, _, _ := m.Read(ctx, "counter")
	if value != strconv.Itoa(n) {
		t.Fatalf("expected %d, got %s", n, value)
	}
}

func TestMemoryHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := NewMemory().Write(ctx, "k", "v"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
