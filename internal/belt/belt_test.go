package belt

import "testing"

func TestOrder_EightBelts(t *testing.T) {
	if len(Order) != 8 {
		t.Fatalf("len(Order) = %d, want 8", len(Order))
	}
	if Order[0] != White || Order[7] != Black {
		t.Errorf("Order ends = %s..%s, want white..black", Order[0], Order[7])
	}
}

func TestNext(t *testing.T) {
	tests := []struct {
		in     Belt
		want   Belt
		wantOK bool
	}{
		{White, Yellow, true},
		{Brown, Black, true},
		{Black, "", false},
		{Belt("plaid"), "", false},
	}
	for _, tt := range tests {
		got, ok := Next(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("Next(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestParse(t *testing.T) {
	b, err := Parse("  Purple ")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if b != Purple {
		t.Errorf("Parse = %q, want purple", b)
	}
	if _, err := Parse("grey"); err == nil {
		t.Error("expected error for unknown belt")
	}
}

func TestAtOrBelow_EmptyIsWhite(t *testing.T) {
	if !AtOrBelow("", White) {
		t.Error("empty belt should count as white")
	}
	if AtOrBelow(Yellow, White) {
		t.Error("yellow is not at or below white")
	}
}

func TestThresholds_StrictlyIncreasing(t *testing.T) {
	for i := 1; i < len(Order); i++ {
		prev, cur := ThresholdFor(Order[i-1]), ThresholdFor(Order[i])
		if cur.ConceptPct <= prev.ConceptPct || cur.Sessions <= prev.Sessions || cur.Concepts <= prev.Concepts {
			t.Errorf("threshold for %s (%+v) is not stricter than %s (%+v)", Order[i], cur, Order[i-1], prev)
		}
	}
}

func TestThresholdFor_Endpoints(t *testing.T) {
	w := ThresholdFor(White)
	if w.ConceptPct != 0.60 || w.Sessions != 1 || w.Concepts != 2 {
		t.Errorf("white threshold = %+v", w)
	}
	b := ThresholdFor(Black)
	if b.ConceptPct != 0.90 || b.Sessions != 25 || b.Concepts != 18 {
		t.Errorf("black threshold = %+v", b)
	}
}
