package types

import "testing"

func TestLUB(t *testing.T) {
	cases := []struct {
		a, b Type
		want Type
		ok   bool
	}{
		{Int, Int, Int, true},
		{Int, Double, Double, true},
		{Double, Int, Double, true},
		{String, Int, Invalid, false},
		{String, String, String, true},
	}
	for _, c := range cases {
		got, ok := LUB(c.a, c.b)
		if got != c.want || ok != c.ok {
			t.Errorf("LUB(%s, %s) = %s, %v; want %s, %v", c.a, c.b, got, ok, c.want, c.ok)
		}
	}
}

func TestAssignable(t *testing.T) {
	cases := []struct {
		from, to Type
		want     bool
	}{
		{Int, Double, true},
		{Double, Int, true},
		{String, Int, true}, // S2I
		{Int, String, false},
		{Void, Int, false},
		{Int, Void, false},
		{String, String, true},
	}
	for _, c := range cases {
		if got := Assignable(c.from, c.to); got != c.want {
			t.Errorf("Assignable(%s, %s) = %v; want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestConversionFor(t *testing.T) {
	cases := []struct {
		from, to Type
		want     Conversion
	}{
		{Int, Double, IntToDouble},
		{Double, Int, DoubleToInt},
		{String, Int, StringToInt},
		{Int, Int, NoConversion},
		{Int, Void, PopValue},
		{Void, Void, NoConversion},
	}
	for _, c := range cases {
		if got := ConversionFor(c.from, c.to); got != c.want {
			t.Errorf("ConversionFor(%s, %s) = %v; want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestValidateOperatorRejectsStringArithmetic(t *testing.T) {
	if _, ok := ValidateOperator("+", String, Int); ok {
		t.Fatalf("expected string + int to be rejected")
	}
	if _, ok := ValidateOperator("+", Int, Int); !ok {
		t.Fatalf("expected int + int to be accepted")
	}
}
