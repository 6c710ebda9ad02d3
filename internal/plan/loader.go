package plan

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// planSchema is the structural contract for trade plan files. Shape errors
// are reported by the schema; business invariants (stop vs entry vs TP
// ordering, margin sums) by TradePlan.Validate.
const planSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["tradeSetup", "orderEntries", "takeProfits"],
  "properties": {
    "tradeSetup": {
      "type": "object",
      "required": ["symbol", "direction", "marginUSD", "entryPrice", "stopLoss", "leverage"],
      "properties": {
        "symbol": {"type": "string", "minLength": 1},
        "direction": {"enum": ["LONG", "SHORT"]},
        "marginUSD": {"type": "number", "exclusiveMinimum": 0},
        "entryPrice": {"type": "number", "exclusiveMinimum": 0},
        "averagePrice": {"type": "number"},
        "stopLoss": {"type": "number", "exclusiveMinimum": 0},
        "leverage": {"type": "string"},
        "maxLossPercent": {"type": "number", "minimum": 0, "maximum": 100}
      }
    },
    "orderEntries": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["label", "sizeUSD", "price"],
        "properties": {
          "label": {"type": "string", "minLength": 1},
          "sizeUSD": {"type": "number", "exclusiveMinimum": 0},
          "price": {"type": "number", "exclusiveMinimum": 0},
          "average": {"type": "number"}
        }
      }
    },
    "takeProfits": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["level", "price", "sizePercent"],
        "properties": {
          "level": {"type": "string", "minLength": 1},
          "price": {"type": "number", "exclusiveMinimum": 0},
          "sizePercent": {"type": "number", "minimum": 0, "maximum": 100}
        }
      }
    },
    "notes": {"type": "string"}
  }
}`

var (
	schemaOnce     sync.Once
	schemaCompiled *jsonschema.Schema
	schemaErr      error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("trade_plan.json", strings.NewReader(planSchema)); err != nil {
			schemaErr = err
			return
		}
		schemaCompiled, schemaErr = compiler.Compile("trade_plan.json")
	})
	return schemaCompiled, schemaErr
}

// LoadFile reads and validates a trade plan JSON file.
func LoadFile(path string) (*TradePlan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取交易计划失败 (%s): %w", path, err)
	}
	return LoadBytes(raw)
}

// LoadBytes parses raw JSON, checks it against the schema, then runs the
// business invariants.
func LoadBytes(raw []byte) (*TradePlan, error) {
	schema, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("编译交易计划 schema 失败: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("%w: JSON 解析失败: %v", ErrPlanInvalid, err)
	}
	if err := schema.Validate(generic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlanInvalid, err)
	}
	var p TradePlan
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlanInvalid, err)
	}
	p.TradeSetup.Symbol = strings.ToUpper(strings.TrimSpace(p.TradeSetup.Symbol))
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
