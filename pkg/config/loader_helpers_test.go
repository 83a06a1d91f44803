package config

import "testing"

func TestMergeConfigsPreservesBooleanDefaults(t *testing.T) {
	base := DefaultConfig()
	base.Thread.Managed = true
	override := &Config{Thread: ThreadConfig{SourceID: "task-1"}}
	raw := map[string]any{
		"thread": map[string]any{"source_id": "task-1"},
	}

	mergeConfigs(base, override, raw)

	if !base.Thread.Managed {
		t.Fatalf("managed flag should remain true when not overridden")
	}
	if base.Thread.SourceID != "task-1" {
		t.Fatalf("expected source id to be overridden")
	}
}

func TestMergeConfigsRespectsBooleanOverrides(t *testing.T) {
	base := DefaultConfig()
	base.Observability.Tracing = true
	override := &Config{}
	raw := map[string]any{
		"observability": map[string]any{"tracing": false},
	}

	mergeConfigs(base, override, raw)

	if base.Observability.Tracing {
		t.Fatalf("tracing should be disabled by explicit override")
	}
}

func TestBoolFieldSet(t *testing.T) {
	raw := map[string]any{"a": map[string]any{"b": false}, "c": "x"}
	if !boolFieldSet(raw, "a", "b") {
		t.Fatal("a.b is set")
	}
	if boolFieldSet(raw, "a", "z") || boolFieldSet(raw, "c", "d") || boolFieldSet(nil, "a") || boolFieldSet(raw) {
		t.Fatal("unexpected match")
	}
}
