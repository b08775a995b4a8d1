package decision

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// decisionSchema constrains the model payload before any field is
// trusted. Extra keys are tolerated; the enum and types are not.
const decisionSchema = `{
  "type": "object",
  "required": ["decision", "reason"],
  "properties": {
    "decision": {"type": "string", "enum": ["buy", "sell", "hold", "wait"]},
    "stock_code": {"type": "string"},
    "quantity": {"type": "integer", "minimum": 0},
    "price": {"type": ["number", "string"]},
    "reason": {"type": "string"}
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("decision.json", strings.NewReader(decisionSchema)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = compiler.Compile("decision.json")
	})
	return schema, schemaErr
}

func validateDecisionJSON(block string) error {
	block = strings.TrimSpace(block)
	if block == "" {
		return fmt.Errorf("decision payload is empty")
	}
	if !gjson.Valid(block) {
		return fmt.Errorf("decision payload is not valid JSON")
	}
	sch, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compiling decision schema failed: %w", err)
	}
	if err := sch.Validate(gjson.Parse(block).Value()); err != nil {
		return fmt.Errorf("decision payload rejected by schema: %w", err)
	}
	return nil
}
