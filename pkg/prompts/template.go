package prompts

import (
	"slices"
	"strings"
	"text/template"

	"github.com/cockroachdb/errors"
)

// PromptTemplate is a Go text/template with declared input variables.
type PromptTemplate struct {
	Template       string
	InputVariables []string

	tmpl *template.Template
	err  error
}

// NewPromptTemplate parses the template.
// A parse error is returned by Format.
func NewPromptTemplate(tmpl string, inputVariables []string) *PromptTemplate {
	t, err := template.New("prompt").Option("missingkey=error").Parse(tmpl)
	return &PromptTemplate{
		Template:       tmpl,
		InputVariables: inputVariables,
		tmpl:           t,
		err:            err,
	}
}

// Format renders the template, every input variable must be present.
func (p *PromptTemplate) Format(values map[string]any) (string, error) {
	if p.err != nil {
		return "", errors.Wrap(p.err, "invalid template")
	}
	for _, v := range p.InputVariables {
		if _, ok := values[v]; !ok {
			return "", errors.Errorf("missing input variable %q", v)
		}
	}

	var buf strings.Builder
	if err := p.tmpl.Execute(&buf, values); err != nil {
		return "", errors.WithStack(err)
	}
	return buf.String(), nil
}

// GetInputVariables returns the sorted input variables.
func (p *PromptTemplate) GetInputVariables() []string {
	vars := slices.Clone(p.InputVariables)
	slices.Sort(vars)
	return vars
}
