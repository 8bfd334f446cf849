// Package template renders step subject/body templates against lead data
// and injects engagement tracking into outgoing HTML.
package template

import (
	"regexp"
	"strings"

	"github.com/outboundlab/sequencer/internal/domain"
)

var tokenPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// Render substitutes {{field}} tokens with the lead's values. Unknown
// tokens are left verbatim so a bad template degrades visibly instead of
// blocking the send; the returned slice names the fields that were missing.
func Render(text string, lead *domain.Lead) (string, []string) {
	if lead == nil {
		return text, nil
	}

	var missing []string
	rendered := tokenPattern.ReplaceAllStringFunc(text, func(token string) string {
		field := strings.TrimSpace(strings.Trim(token, "{}"))
		if value, ok := leadField(lead, field); ok {
			return value
		}
		missing = append(missing, field)
		return token
	})

	return rendered, missing
}

func leadField(lead *domain.Lead, field string) (string, bool) {
	if strings.EqualFold(field, "email") {
		return lead.Email, true
	}
	if value, ok := lead.Attributes[field]; ok {
		return value, true
	}
	return "", false
}
