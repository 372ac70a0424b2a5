package usecase

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"receipt-agent/internal/integrations/mnx"
)

//go:embed schemas.yaml
var schemasYAML []byte

// RecordSchemas returns the table declarations sent by EnsureSchemas.
func RecordSchemas() ([]mnx.Schema, error) {
	var schemas []mnx.Schema
	if err := yaml.Unmarshal(schemasYAML, &schemas); err != nil {
		return nil, fmt.Errorf("usecase: parse record schemas: %w", err)
	}
	for i, s := range schemas {
		if s.TypeName == "" || len(s.Fields) == 0 {
			return nil, fmt.Errorf("usecase: record schema %d is incomplete", i)
		}
	}
	return schemas, nil
}
