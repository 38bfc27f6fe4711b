package language

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pemistahl/lingua-go"
)

const minTextRunes = 20

// Detector guesses the language of scraped text among a configured set.
type Detector struct {
	detector lingua.LanguageDetector
}

// NewDetector builds a detector for the given ISO 639-1 codes.
func NewDetector(codes []string) (*Detector, error) {
	languages := make([]lingua.Language, 0, len(codes))
	for _, code := range codes {
		iso := lingua.GetIsoCode639_1FromValue(strings.ToUpper(strings.TrimSpace(code)))
		lang := lingua.GetLanguageFromIsoCode639_1(iso)
		if lang == lingua.Unknown {
			return nil, fmt.Errorf("unsupported language code %q", code)
		}
		languages = append(languages, lang)
	}

	builder := lingua.NewLanguageDetectorBuilder()
	var detector lingua.LanguageDetector
	if len(languages) < 2 {
		detector = builder.FromAllLanguages().Build()
	} else {
		detector = builder.FromLanguages(languages...).Build()
	}
	return &Detector{detector: detector}, nil
}

// Detect returns the lower-case ISO 639-1 code of text; short or ambiguous text is not classified.
func (d *Detector) Detect(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < minTextRunes {
		return "", false
	}
	lang, ok := d.detector.DetectLanguageOf(text)
	if !ok {
		return "", false
	}
	return strings.ToLower(lang.IsoCode639_1().String()), true
}
