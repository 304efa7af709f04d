package phase

import "testing"

func TestSequenceOrder(t *testing.T) {
	want := []Phase{Strategize, Spec, Plan, Think, Implement, Verify, Review, PR, Monitor}
	if len(Sequence) != len(want) {
		t.Fatalf("Sequence length = %d, want %d", len(Sequence), len(want))
	}
	for i, p := range want {
		if Sequence[i] != p {
			t.Errorf("Sequence[%d] = %s, want %s", i, Sequence[i], p)
		}
		if p.Index() != i {
			t.Errorf("%s.Index() = %d, want %d", p, p.Index(), i)
		}
	}
}

func TestNext(t *testing.T) {
	next, ok := Strategize.Next()
	if !ok || next != Spec {
		t.Errorf("Strategize.Next() = %s, %v, want SPEC, true", next, ok)
	}

	if _, ok := Monitor.Next(); ok {
		t.Error("Monitor.Next() ok = true, want false for terminal phase")
	}

	if _, ok := Phase("BOGUS").Next(); ok {
		t.Error("unknown phase Next() ok = true, want false")
	}
}

func TestBefore(t *testing.T) {
	if !Plan.Before(Implement) {
		t.Error("Plan.Before(Implement) = false, want true")
	}
	if Implement.Before(Plan) {
		t.Error("Implement.Before(Plan) = true, want false")
	}
	if Plan.Before(Plan) {
		t.Error("Plan.Before(Plan) = true, want false")
	}
	if Phase("BOGUS").Before(Plan) {
		t.Error("unknown phase Before() = true, want false")
	}
}

func TestParse(t *testing.T) {
	p, err := Parse("VERIFY")
	if err != nil {
		t.Fatalf("Parse(VERIFY) error: %v", err)
	}
	if p != Verify {
		t.Errorf("Parse(VERIFY) = %s, want VERIFY", p)
	}

	if _, err := Parse("verify"); err == nil {
		t.Error("Parse(verify) expected error for lowercase input")
	}
	if _, err := Parse(""); err == nil {
		t.Error("Parse(\"\") expected error")
	}
}

func TestFirstLast(t *testing.T) {
	if First() != Strategize {
		t.Errorf("First() = %s, want STRATEGIZE", First())
	}
	if Last() != Monitor {
		t.Errorf("Last() = %s, want MONITOR", Last())
	}
	if !Monitor.IsLast() {
		t.Error("Monitor.IsLast() = false, want true")
	}
	if Review.IsLast() {
		t.Error("Review.IsLast() = true, want false")
	}
}
