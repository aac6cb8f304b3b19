package clarify

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/MrWong99/callscribe/pkg/types"
)

// Category classifies a word whose misrecognition would change what the
// caller's request does.
type Category string

const (
	CategoryNone         Category = ""
	CategoryNumericID    Category = "numeric_identifier"
	CategoryDestructive  Category = "destructive_action"
	CategoryNegation     Category = "negation"
	CategoryConfirmation Category = "confirmation"
	CategoryPayment      Category = "payment"
	CategoryMoney        Category = "money"
)

var criticalWords = map[string]Category{
	// Destructive actions. "dar de baja" is caught on "baja".
	"cancelar":      CategoryDestructive,
	"cancela":       CategoryDestructive,
	"cancelación":   CategoryDestructive,
	"eliminar":      CategoryDestructive,
	"elimine":       CategoryDestructive,
	"borrar":        CategoryDestructive,
	"borre":         CategoryDestructive,
	"transferir":    CategoryDestructive,
	"transfiera":    CategoryDestructive,
	"transferencia": CategoryDestructive,
	"baja":          CategoryDestructive,
	"anular":        CategoryDestructive,
	"cerrar":        CategoryDestructive,
	"desactivar":    CategoryDestructive,

	// Negations.
	"no":      CategoryNegation,
	"nunca":   CategoryNegation,
	"jamás":   CategoryNegation,
	"tampoco": CategoryNegation,
	"ninguno": CategoryNegation,
	"nada":    CategoryNegation,

	// Confirmations.
	"sí":        CategoryConfirmation,
	"si":        CategoryConfirmation,
	"correcto":  CategoryConfirmation,
	"confirmo":  CategoryConfirmation,
	"confirmar": CategoryConfirmation,
	"acepto":    CategoryConfirmation,
	"aceptar":   CategoryConfirmation,
	"vale":      CategoryConfirmation,
	"claro":     CategoryConfirmation,
	"exacto":    CategoryConfirmation,

	// Payment verbs.
	"pagar":      CategoryPayment,
	"pago":       CategoryPayment,
	"pague":      CategoryPayment,
	"cobrar":     CategoryPayment,
	"cobro":      CategoryPayment,
	"abonar":     CategoryPayment,
	"depositar":  CategoryPayment,
	"domiciliar": CategoryPayment,
	"reembolso":  CategoryPayment,

	// Monetary quantities.
	"euro":     CategoryMoney,
	"euros":    CategoryMoney,
	"peso":     CategoryMoney,
	"pesos":    CategoryMoney,
	"dólar":    CategoryMoney,
	"dólares":  CategoryMoney,
	"dolar":    CategoryMoney,
	"dolares":  CategoryMoney,
	"céntimos": CategoryMoney,
	"centavos": CategoryMoney,
}

// currencySymbols mark a token as a monetary quantity wherever they appear
// ("$500", "20€").
const currencySymbols = "$€£"

var numericIDPattern = regexp.MustCompile(`\d{4,}`)

// categorize returns the critical category of token, or [CategoryNone].
func categorize(token string) Category {
	if strings.ContainsAny(token, currencySymbols) {
		return CategoryMoney
	}
	core := strings.ToLower(types.TrimPunct(token))
	if core == "" {
		return CategoryNone
	}
	if numericIDPattern.MatchString(core) {
		return CategoryNumericID
	}
	return criticalWords[core]
}

var numeralWords = map[string]struct{}{
	"cero": {}, "uno": {}, "una": {}, "dos": {}, "tres": {}, "cuatro": {},
	"cinco": {}, "seis": {}, "siete": {}, "ocho": {}, "nueve": {}, "diez": {},
	"once": {}, "doce": {}, "trece": {}, "catorce": {}, "quince": {},
	"dieciséis": {}, "dieciseis": {}, "diecisiete": {}, "dieciocho": {},
	"diecinueve": {}, "veinte": {}, "veintiuno": {}, "veintidós": {},
	"treinta": {}, "cuarenta": {}, "cincuenta": {}, "sesenta": {},
	"setenta": {}, "ochenta": {}, "noventa": {}, "cien": {}, "ciento": {},
	"doscientos": {}, "trescientos": {}, "cuatrocientos": {}, "quinientos": {},
	"seiscientos": {}, "setecientos": {}, "ochocientos": {}, "novecientos": {},
	"mil": {}, "millón": {}, "millones": {},
}

// isNumeric reports whether token is written with digits or is a Spanish
// numeral word.
func isNumeric(token string) bool {
	core := strings.ToLower(types.TrimPunct(token))
	if core == "" {
		return false
	}
	if strings.IndexFunc(core, unicode.IsDigit) >= 0 {
		return true
	}
	_, ok := numeralWords[core]
	return ok
}
