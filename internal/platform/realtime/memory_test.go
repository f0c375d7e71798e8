package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestMemoryBackend_SetReplacesSubtree(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()

	if err := m.Set(ctx, "root/patients/1", json.RawMessage(`{"name":"a"}`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := m.Set(ctx, "root/patients/2", json.RawMessage(`{"name":"b"}`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := m.Set(ctx, "root/patients", json.RawMessage(`{"3":{"name":"c"}}`)); err != nil {
		t.Fatalf("set: %v", err)
	}

	if _, ok, _ := m.Get(ctx, "root/patients/1"); ok {
		t.Error("expected patient 1 to be replaced by the parent write")
	}
	raw, ok, err := m.Get(ctx, "root/patients")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(raw) != `{"3":{"name":"c"}}` {
		t.Errorf("unexpected value: %s", raw)
	}
}

func TestMemoryBackend_ChildWriteKeepsSiblings(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()

	_ = m.Set(ctx, "root/settings", json.RawMessage(`{"showBanner":true,"notices":{"0":"a"}}`))
	_ = m.Set(ctx, "root/settings/showBanner", json.RawMessage(`false`))

	raw, ok, err := m.Get(ctx, "root/settings")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(raw) != `{"notices":{"0":"a"},"showBanner":false}` {
		t.Errorf("unexpected value: %s", raw)
	}
}

func TestMemoryBackend_WritesBeneathCollectionLeaf(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()

	_ = m.Set(ctx, "patients", json.RawMessage(`{"1":{"name":"a"},"2":{"name":"b"}}`))

	raw, ok, err := m.Get(ctx, "patients/1")
	if err != nil || !ok || string(raw) != `{"name":"a"}` {
		t.Fatalf("expected member readable, got %s ok=%v err=%v", raw, ok, err)
	}

	if err := m.Set(ctx, "patients/3", json.RawMessage(`{"name":"c"}`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := m.Delete(ctx, "patients/2"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	raw, _, _ = m.Get(ctx, "patients")
	if string(raw) != `{"1":{"name":"a"},"3":{"name":"c"}}` {
		t.Errorf("unexpected collection: %s", raw)
	}
}

func TestMemoryBackend_NullDeletes(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()

	_ = m.Set(ctx, "a/b", json.RawMessage(`1`))
	if err := m.Set(ctx, "a/b", json.RawMessage(`null`)); err != nil {
		t.Fatalf("set null: %v", err)
	}
	if _, ok, _ := m.Get(ctx, "a"); ok {
		t.Error("expected null write to delete")
	}
}

func TestMemoryBackend_RejectsInvalid(t *testing.T) {
	m := NewMemoryBackend()
	if err := m.Set(context.Background(), "a", json.RawMessage(`{`)); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("expected ErrInvalidValue, got %v", err)
	}
	if err := m.Set(context.Background(), "/", json.RawMessage(`1`)); !errors.Is(err, ErrEmptyPath) {
		t.Errorf("expected ErrEmptyPath, got %v", err)
	}
}

func TestMemoryBackend_WatchFiresForRelatedPaths(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()

	fired := 0
	cancel, err := m.Watch("root/patients", func() { fired++ })
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	_ = m.Set(ctx, "root/patients/1", json.RawMessage(`{}`))
	_ = m.Set(ctx, "root/settings", json.RawMessage(`{}`))
	_ = m.Delete(ctx, "root")

	if fired != 2 {
		t.Errorf("expected 2 notifications, got %d", fired)
	}

	cancel()
	_ = m.Set(ctx, "root/patients/2", json.RawMessage(`{}`))
	if fired != 2 {
		t.Errorf("expected no notification after cancel, got %d", fired)
	}
}
