package money

import "testing"

func TestAmountFromRaw18(t *testing.T) {
	got, err := AmountFromRaw18("3000000000000000000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.String() != "3.00000000" {
		t.Fatalf("got %s, want 3.00000000", got.String())
	}
}

func TestParseAndString(t *testing.T) {
	cases := []string{"0.00000000", "1.00000000", "3.87600000", "123.45670000"}
	for _, c := range cases {
		a, err := Parse(c)
		if err != nil {
			t.Fatalf("Parse(%q): %v", c, err)
		}
		if a.String() != c {
			t.Fatalf("Parse(%q).String() = %q", c, a.String())
		}
	}
}

func TestAddSub(t *testing.T) {
	up := MustParse("3.00000000")
	down := MustParse("1.00000000")
	total := up.Add(down)
	if total.String() != "4.00000000" {
		t.Fatalf("total = %s, want 4.00000000", total.String())
	}
	if up.Sub(down).String() != "2.00000000" {
		t.Fatalf("sub mismatch")
	}
}

func TestMul3PctFeeAndOdds(t *testing.T) {
	total := MustParse("4.00000000")
	pool := total.Mul3PctFee()
	if pool.String() != "3.88000000" {
		t.Fatalf("pool = %s, want 3.88000000", pool.String())
	}
	up := MustParse("3.00000000")
	upOdds := pool.DivToOdds(up)
	if upOdds.String() != "1.2933" {
		t.Fatalf("up odds = %s, want 1.2933", upOdds.String())
	}
	down := MustParse("1.00000000")
	downOdds := pool.DivToOdds(down)
	if downOdds.String() != "3.8800" {
		t.Fatalf("down odds = %s, want 3.8800", downOdds.String())
	}
}

func TestDivToOddsZeroStake(t *testing.T) {
	pool := MustParse("4.00000000")
	odds := pool.DivToOdds(Zero)
	if !odds.IsZero() {
		t.Fatalf("expected zero odds for zero stake, got %s", odds.String())
	}
}

func TestLessOrEqualTolerance(t *testing.T) {
	tolerance := MustParse("0.00010000")
	a := MustParse("4.00000000")
	b := MustParse("4.00005000")
	if !a.Sub(b).LessOrEqualTolerance(tolerance) {
		t.Fatalf("expected difference within tolerance")
	}
	c := MustParse("4.01000000")
	if a.Sub(c).LessOrEqualTolerance(tolerance) {
		t.Fatalf("expected difference outside tolerance")
	}
}
