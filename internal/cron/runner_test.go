package cronrunner

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunner_RejectsBadSpec(t *testing.T) {
	r := New(nil, context.Background())
	if _, err := r.Add("ingest", "not a spec", func(context.Context) error { return nil }); err == nil {
		t.Fatalf("expected spec error")
	}
}

func TestRunner_RunsWithBaseContext(t *testing.T) {
	type ctxKey struct{}
	base := context.WithValue(context.Background(), ctxKey{}, "base")
	r := New(nil, base)

	var hits atomic.Int64
	id, err := r.Add("tick", "* * * * * *", func(ctx context.Context) error {
		if ctx.Value(ctxKey{}) == "base" {
			hits.Add(1)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("add err=%v", err)
	}
	r.Start()
	if r.Next(id).IsZero() {
		t.Fatalf("next activation unknown after start")
	}
	deadline := time.Now().Add(3 * time.Second)
	for hits.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	r.Stop()
	if hits.Load() == 0 {
		t.Fatalf("job never ran with base context")
	}
}
