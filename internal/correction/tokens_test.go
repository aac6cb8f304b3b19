package correction

import "testing"

func TestSplitAffixes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		token                string
		prefix, core, suffix string
	}{
		{"cuenta", "", "cuenta", ""},
		{"¿cuenta?", "¿", "cuenta", "?"},
		{"\"sí\",", "\"", "sí", "\","},
		{"12.345,", "", "12.345", ","},
		{"...", "...", "", ""},
		{"", "", "", ""},
	}
	for _, tc := range tests {
		p, c, s := splitAffixes(tc.token)
		if p != tc.prefix || c != tc.core || s != tc.suffix {
			t.Errorf("splitAffixes(%q) = (%q, %q, %q), want (%q, %q, %q)",
				tc.token, p, c, s, tc.prefix, tc.core, tc.suffix)
		}
	}
}

func TestMatchCase(t *testing.T) {
	t.Parallel()

	tests := []struct{ src, dst, want string }{
		{"cuesta", "cuenta", "cuenta"},
		{"Cuesta", "cuenta", "Cuenta"},
		{"CUESTA", "cuenta", "CUENTA"},
		{"Numero", "número", "Número"},
		{"A", "ah", "Ah"},
		{"", "x", "x"},
	}
	for _, tc := range tests {
		if got := matchCase(tc.src, tc.dst); got != tc.want {
			t.Errorf("matchCase(%q, %q) = %q, want %q", tc.src, tc.dst, got, tc.want)
		}
	}
}
