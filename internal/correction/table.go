package correction

import "strings"

// defaultTable holds common speech-recognition errors observed on Spanish
// call-center audio, keyed by the lower-cased misrecognised token.
var defaultTable = map[string]string{
	// Accounts and cards.
	"cuesta":      "cuenta",
	"cuentra":     "cuenta",
	"cunta":       "cuenta",
	"targeta":     "tarjeta",
	"tarjeda":     "tarjeta",
	"tajeta":      "tarjeta",
	"credito":     "crédito",
	"debito":      "débito",
	"contrasena":  "contraseña",
	"contrasenia": "contraseña",
	"usuaro":      "usuario",

	// Billing.
	"factora":   "factura",
	"fatura":    "factura",
	"facura":    "factura",
	"recivo":    "recibo",
	"resibo":    "recibo",
	"reembolzo": "reembolso",
	"rembolso":  "reembolso",

	// Actions.
	"trasferir":    "transferir",
	"tranferir":    "transferir",
	"trasferencia": "transferencia",
	"canselar":     "cancelar",
	"devolucion":   "devolución",
	"reclamasion":  "reclamación",
	"reclamacion":  "reclamación",

	// Service.
	"interne":   "internet",
	"telefono":  "teléfono",
	"numero":    "número",
	"direccion": "dirección",
	"conexion":  "conexión",
	"senal":     "señal",
	"averia":    "avería",
	"tecnico":   "técnico",
	"servisio":  "servicio",
	"serbicio":  "servicio",
}

// builtinTable returns a copy of the built-in table with lower-cased keys.
func builtinTable() map[string]string {
	out := make(map[string]string, len(defaultTable))
	for k, v := range defaultTable {
		out[strings.ToLower(k)] = v
	}
	return out
}
