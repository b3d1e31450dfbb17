// Package schema compiles embedded JSON Schemas and validates raw JSON documents.
package schema

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const baseURL = "https://schemas.taskcal.app/"

// Validator checks documents against one compiled schema.
type Validator struct {
	name   string
	schema *jsonschema.Schema
}

// Compile parses src and compiles it. Formats such as date-time are asserted.
func Compile(name, src string) (*Validator, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	url := baseURL + name
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &Validator{name: name, schema: compiled}, nil
}

// MustCompile is Compile for package-level schemas.
func MustCompile(name, src string) *Validator {
	v, err := Compile(name, src)
	if err != nil {
		panic(err)
	}
	return v
}

// Validate checks body. The returned error message lists each violation on one line,
// suitable for showing to API clients.
func (v *Validator) Validate(body []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := v.schema.Validate(inst); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return errors.New(summarize(ve.Error()))
		}
		return err
	}
	return nil
}

// summarize drops the header line of a validation report and joins the causes.
func summarize(report string) string {
	lines := strings.Split(report, "\n")
	if len(lines) > 1 {
		lines = lines[1:]
	}
	var causes []string
	for _, line := range lines {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
		if line != "" {
			causes = append(causes, line)
		}
	}
	if len(causes) == 0 {
		return strings.TrimSpace(report)
	}
	return strings.Join(causes, "; ")
}
