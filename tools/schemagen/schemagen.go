// Package main generates a JSON schema for the dhpolar YAML configuration file.
//
// Editors wired to the schema flag unknown keys and type mismatches in
// dhpolar.yaml before a run ever reads it. Regenerate after changing
// pkg/config.Config.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/Sumatoshi-tech/dhpolar/pkg/config"
)

// Schema represents a JSON Schema.
type Schema struct {
	Schema               string             `json:"$schema,omitempty"`
	Title                string             `json:"title,omitempty"`
	Description          string             `json:"description,omitempty"`
	Type                 string             `json:"type,omitempty"`
	Properties           map[string]*Schema `json:"properties,omitempty"`
	Items                *Schema            `json:"items,omitempty"`
	Ref                  string             `json:"$ref,omitempty"`
	Definitions          map[string]*Schema `json:"definitions,omitempty"`
	AdditionalProperties *bool              `json:"additionalProperties,omitempty"`
}

// noExtra marks object schemas that reject unknown keys, which is how
// config typos surface in editors.
var noExtra = false

var outputDir string

func main() {
	flag.StringVar(&outputDir, "o", "docs/schemas", "Output directory for schemas")
	flag.Parse()

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
		os.Exit(1)
	}

	schema := generateSchema(&config.Config{})
	if err := writeSchema("config", schema); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing config schema: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Generated schema for config")
}

func generateSchema(v any) *Schema {
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	defs := make(map[string]*Schema)
	props := structToProperties(t, defs)

	schema := &Schema{
		Schema:               "https://json-schema.org/draft-07/schema#",
		Title:                "dhpolar configuration",
		Description:          "JSON schema for the dhpolar.yaml configuration file",
		Type:                 "object",
		Properties:           props,
		AdditionalProperties: &noExtra,
	}

	if len(defs) > 0 {
		schema.Definitions = defs
	}

	return schema
}

// structToProperties walks exported fields by their mapstructure tag.
// Every key carries a default, so nothing is marked required.
func structToProperties(t reflect.Type, defs map[string]*Schema) map[string]*Schema {
	props := make(map[string]*Schema)

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		tag := field.Tag.Get("mapstructure")
		if tag == "-" || tag == "" {
			continue
		}

		name := strings.Split(tag, ",")[0]
		props[name] = typeToSchema(field.Type, defs)
	}

	return props
}

func typeToSchema(t reflect.Type, defs map[string]*Schema) *Schema {
	switch t.Kind() {
	case reflect.String:
		return &Schema{Type: "string"}

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &Schema{Type: "integer"}

	case reflect.Float32, reflect.Float64:
		return &Schema{Type: "number"}

	case reflect.Bool:
		return &Schema{Type: "boolean"}

	case reflect.Slice:
		return &Schema{
			Type:  "array",
			Items: typeToSchema(t.Elem(), defs),
		}

	case reflect.Map:
		return &Schema{
			Type: "object",
			Description: fmt.Sprintf("Map with %s keys and %s values",
				t.Key().Kind().String(), t.Elem().Kind().String()),
		}

	case reflect.Struct:
		defName := t.Name()
		if defName == "" {
			return &Schema{
				Type:                 "object",
				Properties:           structToProperties(t, defs),
				AdditionalProperties: &noExtra,
			}
		}

		if _, exists := defs[defName]; !exists {
			defs[defName] = &Schema{
				Type:                 "object",
				Properties:           structToProperties(t, defs),
				AdditionalProperties: &noExtra,
			}
		}

		return &Schema{Ref: "#/definitions/" + defName}

	case reflect.Ptr:
		return typeToSchema(t.Elem(), defs)

	default:
		return &Schema{Type: "object"}
	}
}

func writeSchema(name string, schema *Schema) error {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	path := filepath.Join(outputDir, name+".json")

	return os.WriteFile(path, data, 0o644)
}
