package billing

import (
	"encoding/json"
	"testing"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in      string
		want    Amount
		wantErr bool
	}{
		{"300.00", 30000, false},
		{"50", 5000, false},
		{"0.5", 50, false},
		{"-21.10", -2110, false},
		{"12.345", 0, true}, // sub-cent precision is rejected, not rounded
		{"", 0, true},
		{"abc", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseAmount(%q) = %v, want error", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseAmount(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseAmount(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestAmountString(t *testing.T) {
	if got := Amount(30000).String(); got != "300.00" {
		t.Fatalf("String() = %q, want 300.00", got)
	}
	if got := Amount(-50).String(); got != "-0.50" {
		t.Fatalf("String() = %q, want -0.50", got)
	}
}

func TestMulHoursRoundsOnce(t *testing.T) {
	// 1.333h at 75.00/h is 99.975 -> 100.00 cents-rounded once.
	if got := Amount(7500).MulHours(1.333); got != 9998 {
		t.Fatalf("MulHours = %d, want 9998", got)
	}
	// The preview scenario: 6h at 50.00/h.
	if got := Amount(5000).MulHours(6); got != 30000 {
		t.Fatalf("MulHours = %d, want 30000", got)
	}
	// 20 minutes at 60.00/h is exactly 20.00.
	if got := Amount(6000).MulHours(1.0 / 3); got != 2000 {
		t.Fatalf("MulHours = %d, want 2000", got)
	}
}

func TestAmountJSON(t *testing.T) {
	raw, err := json.Marshal(Amount(30000))
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != "300.00" {
		t.Fatalf("Marshal = %s, want 300.00", raw)
	}

	var a Amount
	if err := json.Unmarshal([]byte("300.00"), &a); err != nil {
		t.Fatal(err)
	}
	if a != 30000 {
		t.Fatalf("Unmarshal = %d, want 30000", a)
	}
	if err := json.Unmarshal([]byte(`"21.10"`), &a); err != nil {
		t.Fatal(err)
	}
	if a != 2110 {
		t.Fatalf("Unmarshal quoted = %d, want 2110", a)
	}
}
