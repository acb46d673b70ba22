package llm

import "testing"

func TestJSONRepairer_RepairsMarkdownFence(t *testing.T) {
	r := NewJSONRepairer()
	out, err := r.Repair("```json\n{\"title\":\"Go\"}\n```")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out != `{"title":"Go"}` {
		t.Fatalf("got %q", out)
	}
}

func TestJSONRepairer_ExtractsFromSurroundingProse(t *testing.T) {
	r := NewJSONRepairer()
	out, err := r.Repair(`Sure, here is the JSON: {"score": 90} Hope that helps!`)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out != `{"score": 90}` {
		t.Fatalf("got %q", out)
	}
}

func TestJSONRepairer_FixesTrailingCommaAndUnquotedKeys(t *testing.T) {
	r := NewJSONRepairer()
	out, err := r.Repair(`{score: 90, passed: true,}`)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !r.IsValid(out) {
		t.Fatalf("expected valid JSON, got %q", out)
	}
}

func TestJSONRepairer_FailsOnUnrepairableGarbage(t *testing.T) {
	r := NewJSONRepairer()
	_, err := r.Repair("not json at all, just prose with no braces")
	if err == nil {
		t.Fatalf("expected error")
	}
	var repairErr *RepairError
	if !asRepairError(err, &repairErr) {
		t.Fatalf("expected *RepairError, got %T", err)
	}
}

func asRepairError(err error, target **RepairError) bool {
	if re, ok := err.(*RepairError); ok {
		*target = re
		return true
	}
	return false
}

func TestJSONRepairer_IsValid(t *testing.T) {
	r := NewJSONRepairer()
	if !r.IsValid(`{"a":1}`) {
		t.Fatalf("expected valid")
	}
	if r.IsValid(`{a:1}`) {
		t.Fatalf("expected invalid")
	}
}
