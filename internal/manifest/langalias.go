package manifest

import "strings"

// langAliases normalizes common ISO 639-1/639-2 variants so that "eng" and
// "en" compare equal when matching a preferred language, adapted from the
// language-alias table in mohaanymo-veld's track selector.
var langAliases = map[string]string{
	"en":  "eng",
	"eng": "eng",
	"es":  "spa",
	"spa": "spa",
	"fr":  "fre",
	"fre": "fre",
	"fra": "fre",
	"de":  "ger",
	"ger": "ger",
	"deu": "ger",
	"it":  "ita",
	"ita": "ita",
	"pt":  "por",
	"por": "por",
	"ar":  "ara",
	"ara": "ara",
	"ja":  "jpn",
	"jpn": "jpn",
	"zh":  "chi",
	"chi": "chi",
	"zho": "chi",
	"ru":  "rus",
	"rus": "rus",
	"ko":  "kor",
	"kor": "kor",
}

// normalizeLang canonicalizes a language tag for comparison purposes.
func normalizeLang(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if canon, ok := langAliases[lang]; ok {
		return canon
	}
	return lang
}

// langEquals compares two language tags using alias normalization.
func langEquals(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return normalizeLang(a) == normalizeLang(b)
}
