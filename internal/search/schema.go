package search

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

const recordSchemaURL = "record.schema.json"

//go:embed record.schema.json
var recordSchemaSource string

var (
	recordSchemaOnce sync.Once
	recordSchema     *jsonschema.Schema
	recordSchemaErr  error
)

func loadRecordSchema() (*jsonschema.Schema, error) {
	recordSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(recordSchemaURL, strings.NewReader(recordSchemaSource)); err != nil {
			recordSchemaErr = err
			return
		}
		recordSchema, recordSchemaErr = compiler.Compile(recordSchemaURL)
	})
	return recordSchema, recordSchemaErr
}

// Validate checks every record against the record schema.
func Validate(records []Record) error {
	schema, err := loadRecordSchema()
	if err != nil {
		return fmt.Errorf("failed to compile record schema: %w", err)
	}
	for _, r := range records {
		raw, err := json.Marshal(r)
		if err != nil {
			return err
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("failed to normalize record %s: %w", r.ObjectID, err)
		}
		if err := schema.Validate(v); err != nil {
			return fmt.Errorf("record %s: %w", r.ObjectID, err)
		}
	}
	return nil
}
