package models

import (
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// Language identifies a programming language accepted by the grader.
type Language string

const (
	LanguagePython     Language = "python"
	LanguageJavaScript Language = "javascript"
	LanguageJava       Language = "java"
	LanguageCPP        Language = "cpp"
	LanguageC          Language = "c"
)

var supportedLanguages = mapset.NewSet(
	LanguagePython,
	LanguageJavaScript,
	LanguageJava,
	LanguageCPP,
	LanguageC,
)

// ParseLanguage normalises the raw value and reports whether it is supported.
func ParseLanguage(raw string) (Language, bool) {
	language := Language(strings.ToLower(strings.TrimSpace(raw)))
	if !supportedLanguages.Contains(language) {
		return "", false
	}
	return language, true
}

// SupportedLanguages lists every language the grader can execute.
func SupportedLanguages() []Language {
	return []Language{LanguagePython, LanguageJavaScript, LanguageJava, LanguageCPP, LanguageC}
}

func (l Language) String() string {
	return string(l)
}
