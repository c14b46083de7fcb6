package utils

import (
	"testing"

	"salesloop/models"

	"github.com/stretchr/testify/assert"
)

func TestRenderTemplate(t *testing.T) {
	tests := []struct {
		name string
		tmpl string
		vars map[string]string
		want string
	}{
		{
			name: "substitutes known placeholders",
			tmpl: "Olá {first_name}, tudo bem na {company}?",
			vars: map[string]string{"first_name": "Ana", "company": "Acme"},
			want: "Olá Ana, tudo bem na Acme?",
		},
		{
			name: "unknown placeholder stays literal",
			tmpl: "Oi {first_name}, sobre {unknown_field}",
			vars: map[string]string{"first_name": "Ana"},
			want: "Oi Ana, sobre {unknown_field}",
		},
		{
			name: "empty value stays literal",
			tmpl: "Oi {first_name}",
			vars: map[string]string{"first_name": ""},
			want: "Oi {first_name}",
		},
		{
			name: "no placeholders",
			tmpl: "plain text",
			vars: map[string]string{"first_name": "Ana"},
			want: "plain text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RenderTemplate(tt.tmpl, tt.vars))
		})
	}
}

func TestLeadVars(t *testing.T) {
	lead := models.Lead{
		FirstName: "Ana",
		LastName:  "Silva",
		Email:     "ana@acme.com",
		Company:   "Acme",
		JobTitle:  "CEO",
	}

	vars := LeadVars(&lead)
	assert.Equal(t, "Ana Silva", vars["name"])
	assert.Equal(t, "Ana", vars["first_name"])
	assert.Equal(t, "Acme", vars["company"])
	assert.Equal(t, "CEO", vars["role"])
}
