package models

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Assistant describes a chat assistant as returned by the assistant info endpoint.
type Assistant struct {
	Name                string `json:"name"`
	DisplayName         string `json:"displayName"`
	ID                  string `json:"id"`
	LLMConnection       string `json:"llmConnection"`
	RetrieverConnection string `json:"retrieverConnection"`
	Description         string `json:"description"`
}

// AssistantRequest is the body sent to the assistant creation endpoint.
type AssistantRequest struct {
	Name                  string `json:"name"`
	DisplayName           string `json:"displayName"`
	Description           string `json:"description"`
	LLMConnectionID       string `json:"llmConnectionId"`
	RetrieverConnectionID string `json:"retrieverConnectionId"`
}

// Connection is an entry of the retriever or LLM connection lists. Fields that aren't listed here are ignored.
type Connection struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Name        string `json:"name"`
}

// FindAssistant returns the first assistant with the given name, or ErrNotFound.
func FindAssistant(assistants []Assistant, name string) (Assistant, error) {
	for _, a := range assistants {
		if a.Name == name {
			return a, nil
		}
	}
	return Assistant{}, ErrNotFound
}

// Label returns the display name of the assistant, falling back to its name.
func (a Assistant) Label() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.Name
}

// Slug turns a display title into an assistant name: accents are stripped, letters are lowercased, and every
// run of other characters becomes a single hyphen.
func Slug(title string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	plain, _, err := transform.String(t, title)
	if err != nil {
		plain = title
	}

	var sb strings.Builder
	hyphen := false
	for _, r := range strings.ToLower(plain) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
			hyphen = false
			continue
		}
		if !hyphen && sb.Len() > 0 {
			sb.WriteByte('-')
			hyphen = true
		}
	}
	return strings.TrimSuffix(sb.String(), "-")
}
