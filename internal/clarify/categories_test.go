package clarify

import (
	"strings"
	"testing"
)

func TestCategorize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		token string
		want  Category
	}{
		{"¿Cancelar?", CategoryDestructive},
		{"baja.", CategoryDestructive},
		{"No", CategoryNegation},
		{"jamás", CategoryNegation},
		{"SÍ,", CategoryConfirmation},
		{"vale", CategoryConfirmation},
		{"pagar", CategoryPayment},
		{"euros", CategoryMoney},
		{"20€", CategoryMoney},
		{"$", CategoryMoney},
		{"1234", CategoryNumericID},
		{"ES12-3456", CategoryNumericID},
		{"123", CategoryNone},
		{"casa", CategoryNone},
		{"...", CategoryNone},
	}
	for _, tc := range tests {
		if got := categorize(tc.token); got != tc.want {
			t.Errorf("categorize(%q) = %q, want %q", tc.token, got, tc.want)
		}
	}
}

func TestIsNumeric(t *testing.T) {
	t.Parallel()

	for _, tok := range []string{"12", "3,5", "veinte", "Tres.", "mil"} {
		if !isNumeric(tok) {
			t.Errorf("isNumeric(%q) = false, want true", tok)
		}
	}
	for _, tok := range []string{"casa", "", "¿?", "treintaicinco"} {
		if isNumeric(tok) {
			t.Errorf("isNumeric(%q) = true, want false", tok)
		}
	}
}

func TestCriticalPrompt(t *testing.T) {
	t.Parallel()

	if got := criticalPrompt(CategoryDestructive, "cancelar"); !strings.Contains(got, "¿desea cancelar?") {
		t.Errorf("destructive prompt = %q", got)
	}
	if got := criticalPrompt(Category("unknown"), "algo"); got != `¿Podría confirmar "algo", por favor?` {
		t.Errorf("generic prompt = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	if got := truncate("  hola  ", 10); got != "hola" {
		t.Errorf("truncate short = %q", got)
	}
	if got := truncate("señor señora", 6); got != "señor…" {
		t.Errorf("truncate = %q, want %q", got, "señor…")
	}
}
