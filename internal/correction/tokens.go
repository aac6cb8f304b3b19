package correction

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// splitAffixes separates leading and trailing punctuation from the word
// core of a token: "¿cuesta?" → ("¿", "cuesta", "?"). A token without any
// letter or digit returns an empty core.
func splitAffixes(token string) (prefix, core, suffix string) {
	start := strings.IndexFunc(token, isWordRune)
	if start < 0 {
		return token, "", ""
	}
	end := strings.LastIndexFunc(token, isWordRune)
	_, size := utf8.DecodeRuneInString(token[end:])
	end += size
	return token[:start], token[start:end], token[end:]
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// matchCase applies the letter case of src to dst. An all-upper src yields an
// upper-cased dst, a capitalised src a capitalised dst; anything else returns
// dst unchanged.
func matchCase(src, dst string) string {
	if src == "" || dst == "" {
		return dst
	}
	if hasLetter(src) && strings.ToUpper(src) == src && utf8.RuneCountInString(src) > 1 {
		return strings.ToUpper(dst)
	}
	first, _ := utf8.DecodeRuneInString(src)
	if unicode.IsUpper(first) {
		r, size := utf8.DecodeRuneInString(dst)
		return string(unicode.ToUpper(r)) + dst[size:]
	}
	return dst
}

func hasLetter(s string) bool {
	return strings.IndexFunc(s, unicode.IsLetter) >= 0
}

var accentFolder = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u", "ñ", "n",
)

// foldAccents maps the accented letters of a lower-cased Spanish word to
// their plain forms: "señal" → "senal".
func foldAccents(s string) string {
	return accentFolder.Replace(s)
}
