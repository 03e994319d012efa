package dto

import (
	"embed"
	"fmt"

	"github.com/kaptinlin/jsonschema"

	"axoncore/src/domain"
)

//go:embed schemas/*.json
var schemaFiles embed.FS

// Validator checa o formato do payload antes de qualquer decodificação.
type Validator struct {
	push   *jsonschema.Schema
	ingest *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	push, err := loadSchema("schemas/push_request.schema.json")
	if err != nil {
		return nil, err
	}
	ingest, err := loadSchema("schemas/ingest_request.schema.json")
	if err != nil {
		return nil, err
	}
	return &Validator{push: push, ingest: ingest}, nil
}

func loadSchema(path string) (*jsonschema.Schema, error) {
	data, err := schemaFiles.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	schema, err := compiler.Compile(data)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", path, err)
	}
	return schema, nil
}

func validateJSON(schema *jsonschema.Schema, data []byte) error {
	result := schema.ValidateJSON(data)
	if result.IsValid() {
		return nil
	}
	return fmt.Errorf("%w: schema validation failed: %v", domain.ErrValidation, result.Errors)
}

func (v *Validator) ValidatePush(data []byte) error {
	return validateJSON(v.push, data)
}

func (v *Validator) ValidateIngest(data []byte) error {
	return validateJSON(v.ingest, data)
}
