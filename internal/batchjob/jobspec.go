package batchjob

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed jobspec.schema.json
var jobSpecSchemaJSON string

// JobSpec is the Livy batch submission body for the ranking job.
type JobSpec struct {
	Name           string            `json:"name"`
	File           string            `json:"file"`
	ClassName      string            `json:"className,omitempty"`
	Args           []string          `json:"args,omitempty"`
	Jars           []string          `json:"jars,omitempty"`
	PyFiles        []string          `json:"pyFiles,omitempty"`
	DriverMemory   string            `json:"driverMemory,omitempty"`
	ExecutorMemory string            `json:"executorMemory,omitempty"`
	NumExecutors   int               `json:"numExecutors,omitempty"`
	Conf           map[string]string `json:"conf,omitempty"`
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// LoadJobSpec reads and validates a job spec file.
func LoadJobSpec(path string) (JobSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return JobSpec{}, fmt.Errorf("read job spec %q: %w", path, err)
	}
	return ParseJobSpec(raw)
}

// ParseJobSpec validates raw against the job spec schema and decodes it.
func ParseJobSpec(raw []byte) (JobSpec, error) {
	value, err := decodeStrictJSON(raw)
	if err != nil {
		return JobSpec{}, fmt.Errorf("decode job spec JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return JobSpec{}, fmt.Errorf("load schema: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return JobSpec{}, fmt.Errorf("job spec validation failed: %w", err)
	}

	var spec JobSpec
	if err := json.Unmarshal(bytes.TrimSpace(raw), &spec); err != nil {
		return JobSpec{}, fmt.Errorf("unmarshal job spec: %w", err)
	}
	return spec, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020

		if err := compiler.AddResource("jobspec.schema.json", strings.NewReader(jobSpecSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, err := compiler.Compile("jobspec.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}
		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

// decodeStrictJSON keeps numbers as encoding/json.Number, which is what the
// schema validator understands.
func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("job spec is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("job spec contains trailing content")
	}
	return value, nil
}
