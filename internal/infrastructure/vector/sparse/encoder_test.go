package sparse

import (
	"math"
	"testing"
)

func TestEncodeDeterministic(t *testing.T) {
	enc := NewEncoder([]string{"revenue", "margin"})
	text := "AAPL revenue grew to $85,777 with gross margin at 46.3% in Q3 2024"

	first := enc.Encode(text)
	second := enc.Encode(text)
	if first == nil || second == nil {
		t.Fatalf("expected non-nil vectors")
	}
	if len(first.Indices) != len(second.Indices) {
		t.Fatalf("index length mismatch: %d vs %d", len(first.Indices), len(second.Indices))
	}
	for i := range first.Indices {
		if first.Indices[i] != second.Indices[i] {
			t.Fatalf("index %d differs: %d vs %d", i, first.Indices[i], second.Indices[i])
		}
		if first.Values[i] != second.Values[i] {
			t.Fatalf("value %d differs: %v vs %v", i, first.Values[i], second.Values[i])
		}
	}
	if err := first.Validate(); err != nil {
		t.Fatalf("invalid vector: %v", err)
	}
}

func TestEncodeDegenerateInput(t *testing.T) {
	enc := NewEncoder(nil)
	if v := enc.Encode(""); v != nil {
		t.Fatalf("expected nil for empty input, got %v", v)
	}
	if v := enc.Encode("   \t\n"); v != nil {
		t.Fatalf("expected nil for whitespace input, got %v", v)
	}
	// Stop-words only.
	if v := enc.Encode("the of and to"); v != nil {
		t.Fatalf("expected nil for stop-word-only input, got %v", v)
	}
}

func TestTokenizePreservesCurrencyAndPercent(t *testing.T) {
	enc := NewEncoder(nil)
	tokens := enc.Tokenize("Revenue was $50 billion, up 10% year over year")

	wantDollar := false
	wantPercent := false
	for _, tok := range tokens {
		if tok == "dollar50" {
			wantDollar = true
		}
		if tok == "10percent" {
			wantPercent = true
		}
	}
	if !wantDollar {
		t.Fatalf("expected dollar50 token, got %v", tokens)
	}
	if !wantPercent {
		t.Fatalf("expected 10percent token, got %v", tokens)
	}
}

func TestEncodeDomainBoost(t *testing.T) {
	plain := NewEncoder(nil)
	boosted := NewEncoder([]string{"revenue"})

	pv := plain.Encode("revenue")
	bv := boosted.Encode("revenue")
	if pv.Len() != 1 || bv.Len() != 1 {
		t.Fatalf("expected single-term vectors, got %d and %d", pv.Len(), bv.Len())
	}
	want := pv.Values[0] * domainTermBoost
	if math.Abs(bv.Values[0]-want) > 1e-9 {
		t.Fatalf("expected boosted weight %v, got %v", want, bv.Values[0])
	}
}

func TestEncodeWeightGrowsLogarithmically(t *testing.T) {
	enc := NewEncoder(nil)
	v := enc.Encode("buyback buyback buyback")
	if v.Len() != 1 {
		t.Fatalf("expected one term, got %d", v.Len())
	}
	want := 1.0 + math.Log(3)
	if math.Abs(v.Values[0]-want) > 1e-9 {
		t.Fatalf("expected weight %v, got %v", want, v.Values[0])
	}
}
