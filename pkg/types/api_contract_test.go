// API contract tests: the dashboard reads these payloads by their camelCase
// field names, so a missing json tag silently breaks it.
package types

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"
)

// expectedAPIFields lists the field names the dashboard expects.
var expectedAPIFields = map[string][]string{
	"ConfirmationPoint": {"timestamp", "value"},
	"TransactionCounts": {"success", "failure", "total", "successRate"},
	"GasMetrics":        {"averagePrice", "totalUsed"},
	"SpeedMetrics":      {"average", "fastest", "slowest", "pending"},
	"LastError":         {"message", "timestamp"},
	"Summary": {
		"confirmationTimes", "transactionCounts", "gas", "speed", "lastError", "generatedAt",
	},
	"Status": {
		"state", "chainId", "intervalMs", "probesStarted", "skippedTicks",
		"activeAccount", "journalEnabled", "summary",
	},
	"AccountStatus": {"index", "sender", "receiver", "activeSince"},
	"ProbeRecord": {
		"id", "txHash", "account", "sender", "receiver", "submittedAt", "completedAt",
		"latencySeconds", "success", "gasPriceGwei", "gasUsed", "blockNumber", "error",
	},
	"PaginatedProbes": {"probes", "total", "limit", "offset"},
	"ReadinessCheck":  {"name", "healthy", "message"},
}

var apiTypes = map[string]any{
	"ConfirmationPoint": ConfirmationPoint{},
	"TransactionCounts": TransactionCounts{},
	"GasMetrics":        GasMetrics{},
	"SpeedMetrics":      SpeedMetrics{},
	"LastError":         LastError{},
	"Summary":           Summary{},
	"Status":            Status{},
	"AccountStatus":     AccountStatus{},
	"ProbeRecord":       ProbeRecord{},
	"PaginatedProbes":   PaginatedProbes{},
	"ReadinessCheck":    ReadinessCheck{},
}

// TestPublicTypesHaveJSONTags ensures every exported field has a json tag
// naming one of the expected fields.
func TestPublicTypesHaveJSONTags(t *testing.T) {
	for name, instance := range apiTypes {
		t.Run(name, func(t *testing.T) {
			expected := expectedAPIFields[name]
			if expected == nil {
				t.Fatalf("no expected fields for %s", name)
			}

			typ := reflect.TypeOf(instance)
			seen := map[string]bool{}
			for i := 0; i < typ.NumField(); i++ {
				field := typ.Field(i)
				if field.PkgPath != "" {
					continue
				}
				jsonTag := field.Tag.Get("json")
				if jsonTag == "" {
					t.Errorf("Field %s.%s has no json tag - will serialize as PascalCase", name, field.Name)
					continue
				}
				tagName := strings.Split(jsonTag, ",")[0]
				seen[tagName] = true
			}

			for _, f := range expected {
				if !seen[f] {
					t.Errorf("%s is missing field %q", name, f)
				}
			}
			if len(seen) != len(expected) {
				t.Errorf("%s has %d json fields, want %d", name, len(seen), len(expected))
			}
		})
	}
}

// TestJSONSerializationIsCamelCase verifies actual JSON output uses camelCase.
func TestJSONSerializationIsCamelCase(t *testing.T) {
	latency := 4.5
	testCases := []struct {
		name            string
		instance        any
		expectedFields  []string
		forbiddenFields []string
	}{
		{
			name:            "TransactionCounts",
			instance:        TransactionCounts{Success: 9, Failure: 1, Total: 10, SuccessRate: 90},
			expectedFields:  []string{"success", "failure", "total", "successRate"},
			forbiddenFields: []string{"Success", "SuccessRate"},
		},
		{
			name: "Status",
			instance: Status{
				State:         StateInFlight,
				ChainID:       8082,
				IntervalMs:    60000,
				ProbesStarted: 3,
				ActiveAccount: AccountStatus{Index: 1, Sender: "0x01", Receiver: "0x02", ActiveSince: time.Unix(0, 0).UTC()},
			},
			expectedFields:  []string{"state", "chainId", "intervalMs", "probesStarted", "activeAccount", "activeSince"},
			forbiddenFields: []string{"State", "ChainID", "IntervalMs", "ActiveAccount"},
		},
		{
			name:            "ProbeRecord",
			instance:        ProbeRecord{ID: 1, TxHash: "0xabc", LatencySeconds: &latency, GasPriceGwei: 1.5},
			expectedFields:  []string{"txHash", "latencySeconds", "gasPriceGwei"},
			forbiddenFields: []string{"TxHash", "LatencySeconds", "GasPriceGwei"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.instance)
			if err != nil {
				t.Fatalf("Failed to marshal %s: %v", tc.name, err)
			}
			jsonStr := string(data)

			for _, field := range tc.expectedFields {
				if !strings.Contains(jsonStr, `"`+field+`"`) {
					t.Errorf("Expected camelCase field %q not found in JSON: %s", field, jsonStr)
				}
			}
			for _, field := range tc.forbiddenFields {
				if strings.Contains(jsonStr, `"`+field+`"`) {
					t.Errorf("Forbidden PascalCase field %q found in JSON: %s", field, jsonStr)
				}
			}
		})
	}
}

// TestAPIResponseStructure decodes payloads shaped like the dashboard reads them.
func TestAPIResponseStructure(t *testing.T) {
	raw := `{
		"confirmationTimes": [{"timestamp": 1700000000, "value": 3.25}],
		"transactionCounts": {"success": 1, "failure": 0, "total": 1, "successRate": 100},
		"gas": {"averagePrice": 1.2, "totalUsed": 25200},
		"speed": {"average": 3.25, "fastest": 3.25, "slowest": 3.25, "pending": 0},
		"lastError": null,
		"generatedAt": "2024-05-01T12:00:00Z"
	}`

	var s Summary
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	if len(s.ConfirmationTimes) != 1 || s.ConfirmationTimes[0].Value != 3.25 {
		t.Errorf("confirmationTimes = %+v", s.ConfirmationTimes)
	}
	if s.Counts.SuccessRate != 100 || s.Gas.TotalUsed != 25200 || s.Speed.Fastest != 3.25 {
		t.Errorf("summary = %+v", s)
	}
	if s.LastError != nil {
		t.Errorf("lastError = %+v, want nil", s.LastError)
	}
}

// TestOmitEmptyFields checks that optional probe fields vanish when unset.
func TestOmitEmptyFields(t *testing.T) {
	data, err := json.Marshal(ProbeRecord{ID: 1, Error: "probe submission failed"})
	if err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{"txHash", "latencySeconds", "gasPriceGwei", "gasUsed", "blockNumber"} {
		if strings.Contains(string(data), `"`+field+`"`) {
			t.Errorf("expected %q to be omitted: %s", field, data)
		}
	}
}
