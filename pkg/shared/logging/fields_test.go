package logging

import "testing"

func TestFields_Component(t *testing.T) {
	fields := NewFields().Component("executor")
	if fields["component"] != "executor" {
		t.Errorf("Component() = %v, want %v", fields["component"], "executor")
	}
}

func TestFields_Chaining(t *testing.T) {
	fields := NewFields().
		Component("gate").
		Operation("evaluate").
		Incident("inc-1").
		Stage("gating")

	want := map[string]string{
		"component":   "gate",
		"operation":   "evaluate",
		"incident_id": "inc-1",
		"stage":       "gating",
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("fields[%q] = %v, want %v", k, fields[k], v)
		}
	}
}

func TestFields_Err(t *testing.T) {
	fields := NewFields().Err(nil)
	if _, ok := fields["error"]; ok {
		t.Error("Err(nil) should not set the error field")
	}
}
