package urlparser

import "strings"

var tldLanguages = map[string]string{
	"com": "en", "edu": "en", "gov": "en", "mil": "en", "org": "en",
	"net": "en", "us": "en", "uk": "en", "ca": "en", "au": "en",
	"bz": "en", "ie": "en", "jm": "en", "nz": "en", "za": "en",
	"zw": "en", "tt": "en",
	"eg": "ar", "dz": "ar", "bh": "ar", "jo": "ar", "kw": "ar",
	"lb": "ar", "iq": "ar", "ma": "ar", "om": "ar", "qa": "ar",
	"sa": "ar", "sy": "ar", "tn": "ar", "ae": "ar", "ye": "ar",
	"de": "de", "at": "de",
	"es": "es", "ar": "es", "bo": "es", "cl": "es", "co": "es",
	"cr": "es", "dr": "es", "ec": "es", "sv": "es", "gt": "es",
	"hn": "es", "mx": "es", "ni": "es", "pa": "es", "py": "es",
	"pe": "es", "pr": "es", "uy": "es", "ve": "es",
	"fr": "fr-FR", "be": "fr-FR", "lu": "fr-FR", "qc": "fr",
	"hk": "zh-CN", "sg": "zh-CN", "tw": "zh-CN", "cn": "zh-CN",
	"id": "in-ID", "il": "he", "it": "it", "jp": "ja",
	"kp": "ko", "kr": "ko", "pl": "pl", "br": "pt", "pt": "pt",
	"ru": "ru", "th": "th", "tr": "tr", "vi": "vi-VN",
}

// Lang guesses a language from the top level domain of link. It returns ""
// when the domain says nothing.
func Lang(link string) string {
	parts := strings.Split(HostName(link), ".")
	if len(parts) == 0 {
		return ""
	}
	tld := parts[len(parts)-1]
	if tld == "ca" && len(parts) > 1 && parts[len(parts)-2] == "qc" {
		tld = "qc"
	}
	return tldLanguages[tld]
}
