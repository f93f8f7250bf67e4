// Package lang guesses whether a short chat message is Spanish or
// English. It drives voice selection only, so a cheap keyword and
// diacritic scan beats pulling in a full language classifier.
package lang

import "strings"

// Language is a reply language for speech synthesis.
type Language string

const (
	Spanish Language = "es"
	English Language = "en"
)

// Spanish chat staples: greetings, requests and service vocabulary.
// Any hit marks the text as Spanish; English is the fallback. Words
// that double as ordinary English words (articles, "no", "es") are
// deliberately absent.
var spanishWords = map[string]struct{}{
	"hola": {}, "qué": {}, "cómo": {}, "gracias": {}, "necesito": {},
	"quiero": {}, "buenos": {}, "buenas": {}, "está": {}, "dónde": {},
	"cuándo": {}, "cuánto": {}, "puede": {}, "tienen": {}, "hacer": {},
	"ayuda": {}, "información": {}, "servicio": {}, "precio": {},
	"cuenta": {}, "bien": {}, "mucho": {}, "para": {},
}

// Detect returns the probable language of text.
// Empty or unrecognized text detects as English; the heuristic only
// needs to be right often enough to pick a natural-sounding voice.
func Detect(text string) Language {
	lowered := strings.ToLower(text)
	if strings.ContainsAny(lowered, "áéíóúñ¿¡") {
		return Spanish
	}
	if strings.Contains(lowered, "por favor") {
		return Spanish
	}
	for _, word := range strings.Fields(lowered) {
		word = strings.Trim(word, ".,;:!?\"'()")
		if _, ok := spanishWords[word]; ok {
			return Spanish
		}
	}
	return English
}
