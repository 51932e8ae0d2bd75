package domain

import "strings"

// separador improvável em nomes de campo; só é usado na chave interna.
const locSeparator = "\x1f"

// ValidationErrorDetail é um erro de validação como produzido pelo validador
// da aplicação (ex: loc=["query","foo"], type="type_error.integer").
type ValidationErrorDetail struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

// LocKey achata Loc para uso como parte de uma chave de map.
func (d ValidationErrorDetail) LocKey() string {
	return strings.Join(d.Loc, locSeparator)
}

// SplitLocKey desfaz LocKey.
func SplitLocKey(key string) []string {
	if key == "" {
		return []string{}
	}
	return strings.Split(key, locSeparator)
}

type ValidationErrorKey struct {
	Consumer string
	Method   string
	Path     string
	Loc      string
	Msg      string
	Type     string
}

type ValidationErrorsItem struct {
	Consumer   string   `json:"consumer,omitempty"`
	Method     string   `json:"method"`
	Path       string   `json:"path"`
	Loc        []string `json:"loc"`
	Msg        string   `json:"msg"`
	Type       string   `json:"type"`
	ErrorCount int      `json:"error_count"`
}
