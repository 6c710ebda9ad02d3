package plan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goodPlanJSON = `{
  "tradeSetup": {
    "symbol": "sol",
    "direction": "SHORT",
    "marginUSD": 300,
    "entryPrice": 210,
    "stopLoss": 221,
    "leverage": "10x",
    "maxLossPercent": 35
  },
  "orderEntries": [
    {"label": "Entry", "sizeUSD": 150, "price": 210},
    {"label": "Rebuy1", "sizeUSD": 150, "price": 215}
  ],
  "takeProfits": [
    {"level": "TP1", "price": 205, "sizePercent": 50},
    {"level": "TP2", "price": 200, "sizePercent": 50}
  ],
  "notes": "test"
}`

func TestLoadBytesUppercasesSymbol(t *testing.T) {
	p, err := LoadBytes([]byte(goodPlanJSON))
	require.NoError(t, err)
	assert.Equal(t, "SOL", p.TradeSetup.Symbol)
	assert.Equal(t, Short, p.TradeSetup.Direction)
	assert.Len(t, p.OrderEntries, 2)
	assert.Equal(t, "test", p.Notes)
}

func TestLoadBytesRejectsMalformedJSON(t *testing.T) {
	_, err := LoadBytes([]byte("{not json"))
	assert.ErrorIs(t, err, ErrPlanInvalid)
}

func TestLoadBytesRejectsSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"missing tradeSetup": `{"orderEntries": [], "takeProfits": []}`,
		"bad direction": `{
			"tradeSetup": {"symbol": "SOL", "direction": "UP", "marginUSD": 100, "entryPrice": 1, "stopLoss": 0.9, "leverage": "5x"},
			"orderEntries": [{"label": "Entry", "sizeUSD": 100, "price": 1}],
			"takeProfits": [{"level": "TP1", "price": 1.1, "sizePercent": 100}]
		}`,
		"empty entries": `{
			"tradeSetup": {"symbol": "SOL", "direction": "LONG", "marginUSD": 100, "entryPrice": 1, "stopLoss": 0.9, "leverage": "5x"},
			"orderEntries": [],
			"takeProfits": [{"level": "TP1", "price": 1.1, "sizePercent": 100}]
		}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadBytes([]byte(raw))
			assert.ErrorIs(t, err, ErrPlanInvalid)
		})
	}
}

func TestLoadBytesRunsBusinessValidation(t *testing.T) {
	// schema-valid but stop on the wrong side for a SHORT
	raw := `{
		"tradeSetup": {"symbol": "SOL", "direction": "SHORT", "marginUSD": 100, "entryPrice": 210, "stopLoss": 200, "leverage": "10x"},
		"orderEntries": [{"label": "Entry", "sizeUSD": 100, "price": 210}],
		"takeProfits": [{"level": "TP1", "price": 205, "sizePercent": 100}]
	}`
	_, err := LoadBytes([]byte(raw))
	assert.ErrorIs(t, err, ErrPlanInvalid)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.json")
	require.NoError(t, os.WriteFile(path, []byte(goodPlanJSON), 0o644))

	p, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "SOL", p.TradeSetup.Symbol)

	_, err = LoadFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
