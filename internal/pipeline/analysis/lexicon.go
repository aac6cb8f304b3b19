package analysis

import "regexp"

// Entity kinds reported in [Advanced.Entities].
const (
	EntityAccountNumber = "account_number"
	EntityMoney         = "money"
	EntityDate          = "date"
	EntityEmail         = "email"
	EntityPhone         = "phone"
)

var entityPatterns = []struct {
	kind string
	re   *regexp.Regexp
}{
	{EntityAccountNumber, regexp.MustCompile(`\b\d{8,12}\b`)},
	{EntityMoney, regexp.MustCompile(`(?i)[$€]\s?\d+(?:[.,]\d+)*|\b\d+(?:[.,]\d+)*\s?(?:€|euros?\b|pesos?\b|d[oó]lar(?:es)?\b)`)},
	{EntityDate, regexp.MustCompile(`(?i)\b\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\b|\b\d{1,2} de (?:enero|febrero|marzo|abril|mayo|junio|julio|agosto|septiembre|octubre|noviembre|diciembre)(?: de \d{4})?`)},
	{EntityEmail, regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)},
	// Phones need a country prefix or separators so that bare digit runs
	// stay account numbers.
	{EntityPhone, regexp.MustCompile(`\+\d{1,3}[\s-]?\d{2,4}(?:[\s-]?\d{2,4}){2,3}|\b\d{3}[\s-]\d{2,3}[\s-]\d{2,3}(?:[\s-]\d{2,3})?\b`)},
}

// ExtractEntities finds account numbers, monetary amounts, dates, emails and
// phone numbers in text.
func ExtractEntities(text string) map[string][]string {
	out := map[string][]string{}
	for _, p := range entityPatterns {
		seen := map[string]struct{}{}
		for _, m := range p.re.FindAllString(text, -1) {
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			out[p.kind] = append(out[p.kind], m)
		}
	}
	return out
}

// Topic names reported in [Advanced.Topics].
const (
	TopicBilling      = "billing"
	TopicTechnical    = "technical"
	TopicAccount      = "account"
	TopicCancellation = "cancellation"
	TopicComplaint    = "complaint"
)

func set(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

var topicKeywords = []struct {
	topic string
	words map[string]struct{}
}{
	{TopicBilling, set("factura", "facturas", "facturación", "cobro", "cobros", "cargo", "cargos",
		"recibo", "recibos", "pago", "pagar", "importe", "precio", "tarifa", "cuota", "deuda", "reembolso")},
	{TopicTechnical, set("internet", "conexión", "señal", "wifi", "router", "avería", "fibra",
		"lento", "lenta", "velocidad", "funciona", "error", "cobertura", "técnico")},
	{TopicAccount, set("cuenta", "contraseña", "usuario", "perfil", "datos", "titular",
		"acceso", "clave", "contrato")},
	{TopicCancellation, set("cancelar", "cancelación", "baja", "rescindir", "anular",
		"desactivar", "portabilidad")},
	{TopicComplaint, set("queja", "quejas", "reclamación", "reclamar", "problema", "problemas",
		"molesto", "molesta", "insatisfecho", "denuncia", "inaceptable", "harto")},
}

var stopwords = set(
	"a", "al", "algo", "algún", "alguna", "alguno", "ante", "antes", "aquí", "así",
	"bien", "cada", "casi", "como", "con", "contra", "cual", "cuando", "de", "del",
	"desde", "donde", "dos", "el", "él", "ella", "ellas", "ellos", "en", "entre",
	"era", "es", "esa", "ese", "eso", "esta", "está", "estaba", "estamos", "están",
	"estar", "este", "esto", "estoy", "fue", "ha", "hace", "han", "hasta", "hay",
	"he", "la", "las", "le", "les", "lo", "los", "más", "me", "mi", "mis", "mucho",
	"muy", "nada", "ni", "no", "nos", "nosotros", "o", "otra", "otro", "para",
	"pero", "poco", "por", "porque", "pues", "que", "qué", "quiero", "se", "sea",
	"según", "ser", "si", "sí", "sin", "sobre", "son", "su", "sus", "también",
	"tan", "te", "tengo", "tiene", "todo", "todos", "tu", "tú", "un", "una", "uno",
	"unos", "usted", "vale", "ya", "yo", "bueno", "buenas", "buenos", "hola",
	"gracias", "favor", "entonces", "vez",
)
