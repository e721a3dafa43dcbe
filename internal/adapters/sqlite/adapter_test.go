package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	a, err := NewAdapter(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestAdapter_GetPut(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(t *testing.T, a *Adapter)
		key       string
		wantFound bool
		wantValue string
	}{
		{
			name:  "not found",
			setup: func(t *testing.T, a *Adapter) {},
			key:   "analysis:missing",
		},
		{
			name: "stored without expiry",
			setup: func(t *testing.T, a *Adapter) {
				if err := a.Put(context.Background(), "stems:sc://a", []byte(`{"vocals":"v"}`), 0); err != nil {
					t.Fatalf("put: %v", err)
				}
			},
			key:       "stems:sc://a",
			wantFound: true,
			wantValue: `{"vocals":"v"}`,
		},
		{
			name: "upsert replaces value",
			setup: func(t *testing.T, a *Adapter) {
				ctx := context.Background()
				if err := a.Put(ctx, "analysis:sc://a", []byte("old"), time.Hour); err != nil {
					t.Fatalf("put: %v", err)
				}
				if err := a.Put(ctx, "analysis:sc://a", []byte("new"), time.Hour); err != nil {
					t.Fatalf("put: %v", err)
				}
			},
			key:       "analysis:sc://a",
			wantFound: true,
			wantValue: "new",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAdapter(t)
			tt.setup(t, a)

			got, ok, err := a.Get(context.Background(), tt.key)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if ok != tt.wantFound {
				t.Fatalf("found = %v, want %v", ok, tt.wantFound)
			}
			if string(got) != tt.wantValue {
				t.Fatalf("value = %q, want %q", got, tt.wantValue)
			}
		})
	}
}

func TestAdapter_Expiry(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	if err := a.Put(ctx, "precomputed:sc://a", []byte("x"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := a.Put(ctx, "precomputed:sc://b", []byte("y"), 0); err != nil {
		t.Fatal(err)
	}

	now = now.Add(59 * time.Second)
	if _, ok, _ := a.Get(ctx, "precomputed:sc://a"); !ok {
		t.Fatal("entry expired early")
	}

	now = now.Add(2 * time.Second)
	if _, ok, _ := a.Get(ctx, "precomputed:sc://a"); ok {
		t.Fatal("expired entry returned")
	}
	if _, ok, _ := a.Get(ctx, "precomputed:sc://b"); !ok {
		t.Fatal("entry without ttl expired")
	}

	if err := a.Put(ctx, "precomputed:sc://c", []byte("z"), time.Second); err != nil {
		t.Fatal(err)
	}
	now = now.Add(time.Hour)
	n, err := a.PurgeExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("purged %d rows, want 1", n)
	}
}

func TestAdapter_DeletePrefix(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	keys := []string{
		"analysis:sc://a",
		"analysis:sc://a|quality=high",
		"analysis:sc://ab",
		"analysis:sc://a_b",
		"stems:sc://a",
	}
	for _, k := range keys {
		if err := a.Put(ctx, k, []byte("v"), 0); err != nil {
			t.Fatal(err)
		}
	}

	if err := a.DeletePrefix(ctx, "analysis:sc://a|"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := a.Get(ctx, "analysis:sc://a|quality=high"); ok {
		t.Error("variant survived prefix delete")
	}
	if _, ok, _ := a.Get(ctx, "analysis:sc://a"); !ok {
		t.Error("exact key removed by variant prefix")
	}

	// "_" must not act as a wildcard
	if err := a.DeletePrefix(ctx, "analysis:sc://a_"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := a.Get(ctx, "analysis:sc://ab"); !ok {
		t.Error("underscore matched as wildcard")
	}
	if _, ok, _ := a.Get(ctx, "analysis:sc://a_b"); ok {
		t.Error("literal underscore prefix not deleted")
	}

	if err := a.DeletePrefix(ctx, "analysis:"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := a.Get(ctx, "stems:sc://a"); !ok {
		t.Error("namespace clear crossed namespaces")
	}
}
