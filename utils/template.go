package utils

import (
	"regexp"

	"salesloop/models"
)

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// RenderTemplate substitutes {placeholder} variables from vars. A
// placeholder with no value stays literal instead of erroring, so a
// half-filled record still produces a sendable message.
func RenderTemplate(tmpl string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		key := match[1 : len(match)-1]
		if v, ok := vars[key]; ok && v != "" {
			return v
		}
		return match
	})
}

// LeadVars builds the template variable set from a lead record.
func LeadVars(lead *models.Lead) map[string]string {
	return map[string]string{
		"name":       lead.FullName(),
		"first_name": lead.FirstName,
		"last_name":  lead.LastName,
		"company":    lead.Company,
		"role":       lead.JobTitle,
		"email":      lead.Email,
		"phone":      lead.Phone,
	}
}

// ContactVars builds the template variable set from a contact record.
func ContactVars(contact *models.Contact) map[string]string {
	return map[string]string{
		"name":       contact.FullName(),
		"first_name": contact.FirstName,
		"last_name":  contact.LastName,
		"company":    contact.Company,
		"role":       contact.JobTitle,
		"email":      contact.Email,
		"phone":      contact.Phone,
	}
}
