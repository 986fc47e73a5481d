package thread

import "testing"

func TestNormalizeSubject(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"empty", "", ""},
		{"plain", "Quarterly report", "quarterly report"},
		{"re prefix", "Re: Quarterly report", "quarterly report"},
		{"fwd prefix", "Fwd: Quarterly report", "quarterly report"},
		{"fw prefix", "FW: Quarterly report", "quarterly report"},
		{"stacked prefixes", "Re: RE: Fwd: re: Quarterly report", "quarterly report"},
		{"counted marker", "RE[2]: Quarterly report", "quarterly report"},
		{"list tag before marker", "[ext] Re: Quarterly report", "quarterly report"},
		{"whitespace collapse", "  Order \t #123   shipped ", "order #123 shipped"},
		{"marker only", "Re:", ""},
		{"re mid-subject untouched", "Care: instructions", "care: instructions"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeSubject(tt.raw); got != tt.want {
				t.Errorf("NormalizeSubject(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}
