package clarify

import "fmt"

const (
	repeatPrompt = "Disculpe, no le he entendido bien. ¿Podría repetirlo, por favor?"
	echoPrompt   = "Le he entendido: \"%s\". ¿Es correcto?"
	numberPrompt = "¿Podría repetir el número %s cifra por cifra, por favor?"
)

var criticalTemplates = map[Category]string{
	CategoryDestructive:  "Para confirmar: ¿desea %s? Por favor responda sí o no.",
	CategoryNegation:     "¿Ha dicho \"%s\"? Necesito confirmarlo antes de continuar.",
	CategoryConfirmation: "¿Me confirma que su respuesta es \"%s\"?",
	CategoryPayment:      "Entendí que quiere %s. ¿Me lo confirma, por favor?",
	CategoryNumericID:    "¿Podría confirmar el número %s, dígito por dígito?",
	CategoryMoney:        "¿Me confirma el importe en \"%s\"?",
}

const genericCriticalTemplate = "¿Podría confirmar \"%s\", por favor?"

func criticalPrompt(cat Category, word string) string {
	tmpl, ok := criticalTemplates[cat]
	if !ok {
		tmpl = genericCriticalTemplate
	}
	return fmt.Sprintf(tmpl, word)
}
