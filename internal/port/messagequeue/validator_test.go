package messagequeue

import (
	"errors"
	"testing"
)

func TestValidateThinkEvent(t *testing.T) {
	data := []byte(`{"agent_id":"a1","project_id":"p1","trigger":"scheduled","hop":0}`)
	if err := Validate(SubjectAgentThink, data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateThinkEventMissingFields(t *testing.T) {
	cases := map[string]string{
		"missing agent":   `{"project_id":"p1","trigger":"scheduled"}`,
		"missing project": `{"agent_id":"a1","trigger":"scheduled"}`,
		"missing trigger": `{"agent_id":"a1","project_id":"p1"}`,
	}
	for name, payload := range cases {
		err := Validate(SubjectAgentThink, []byte(payload))
		if err == nil {
			t.Fatalf("%s: expected error, got nil", name)
		}
		if !errors.Is(err, ErrMalformed) {
			t.Fatalf("%s: expected ErrMalformed, got %v", name, err)
		}
	}
}

func TestValidatePlanningEvent(t *testing.T) {
	if err := Validate(SubjectProjectPlanning, []byte(`{"project_id":"p1"}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := Validate(SubjectProjectPlanning, []byte(`{}`))
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestValidateRejectsInvalidJSON(t *testing.T) {
	err := Validate(SubjectAgentThink, []byte(`{not json`))
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestValidateUnknownSubjectPasses(t *testing.T) {
	if err := Validate("agents.unknown", []byte(`{"x":1}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
