package rules

import (
	"fmt"
	"testing"
	"time"

	"github.com/opensource-risk/kestrel/internal/domain"
)

func testTx() *domain.Transaction {
	return &domain.Transaction{
		ID:        "tx-001",
		Amount:    2500,
		Currency:  "USD",
		CardBIN:   "411111",
		SessionID: "session-1",
		PlayerID:  "player-1",
		Country:   "US",
		City:      "Las Vegas",
		IP:        "203.0.113.7",
		Timestamp: time.Date(2025, 6, 15, 23, 30, 0, 0, time.UTC),
		Metadata:  map[string]interface{}{"channel": "mobile"},
	}
}

func TestEvaluateConditionString(t *testing.T) {
	tx := testTx()

	cases := []struct {
		name string
		cond domain.Condition
		want bool
	}{
		{"EqualsMatch", domain.Condition{Field: "currency", Operator: domain.OpEquals, Value: "USD", Type: domain.TypeString}, true},
		{"EqualsCaseSensitive", domain.Condition{Field: "currency", Operator: domain.OpEquals, Value: "usd", Type: domain.TypeString}, false},
		{"NotEquals", domain.Condition{Field: "country", Operator: domain.OpNotEquals, Value: "BR", Type: domain.TypeString}, true},
		{"ContainsCaseInsensitive", domain.Condition{Field: "city", Operator: domain.OpContains, Value: "vegas", Type: domain.TypeString}, true},
		{"NotContains", domain.Condition{Field: "city", Operator: domain.OpNotContains, Value: "york", Type: domain.TypeString}, true},
		{"RegexMatch", domain.Condition{Field: "cardBin", Operator: domain.OpRegex, Value: "^4", Type: domain.TypeString}, true},
		{"RegexInvalidPattern", domain.Condition{Field: "cardBin", Operator: domain.OpRegex, Value: "[invalid", Type: domain.TypeString}, false},
		{"InListMatch", domain.Condition{Field: "country", Operator: domain.OpInList, Value: "GB, US, CA", Type: domain.TypeString}, true},
		{"InListMiss", domain.Condition{Field: "country", Operator: domain.OpInList, Value: "GB,DE", Type: domain.TypeString}, false},
		{"LexicographicGreater", domain.Condition{Field: "currency", Operator: domain.OpGreaterThan, Value: "EUR", Type: domain.TypeString}, true},
		{"UnknownFieldIsEmpty", domain.Condition{Field: "nonexistent", Operator: domain.OpEquals, Value: "", Type: domain.TypeString}, true},
		{"MetadataFallback", domain.Condition{Field: "channel", Operator: domain.OpEquals, Value: "mobile", Type: domain.TypeString}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := EvaluateCondition(tc.cond, tx); got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestEvaluateConditionNumber(t *testing.T) {
	tx := testTx()

	cases := []struct {
		name string
		cond domain.Condition
		want bool
	}{
		{"GreaterThan", domain.Condition{Field: "amount", Operator: domain.OpGreaterThan, Value: "1000", Type: domain.TypeNumber}, true},
		{"LessThan", domain.Condition{Field: "amount", Operator: domain.OpLessThan, Value: "1000", Type: domain.TypeNumber}, false},
		{"GreaterOrEqualBoundary", domain.Condition{Field: "amount", Operator: domain.OpGreaterOrEqual, Value: "2500", Type: domain.TypeNumber}, true},
		{"LessOrEqualBoundary", domain.Condition{Field: "amount", Operator: domain.OpLessOrEqual, Value: "2500", Type: domain.TypeNumber}, true},
		{"Equals", domain.Condition{Field: "amount", Operator: domain.OpEquals, Value: "2500", Type: domain.TypeNumber}, true},
		{"UnparsableLiteral", domain.Condition{Field: "amount", Operator: domain.OpGreaterThan, Value: "lots", Type: domain.TypeNumber}, false},
		{"UnparsableField", domain.Condition{Field: "currency", Operator: domain.OpGreaterThan, Value: "10", Type: domain.TypeNumber}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := EvaluateCondition(tc.cond, tx); got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestEvaluateConditionDate(t *testing.T) {
	// 23:30 UTC
	tx := testTx()

	t.Run("EpochComparison", func(t *testing.T) {
		epoch := fmt.Sprintf("%d", tx.Timestamp.Add(-time.Hour).Unix())
		cond := domain.Condition{Field: "timestamp", Operator: domain.OpGreaterThan, Value: epoch, Type: domain.TypeDate}
		if !EvaluateCondition(cond, tx) {
			t.Error("expected timestamp to be after epoch literal")
		}
	})

	t.Run("RFC3339Literal", func(t *testing.T) {
		cond := domain.Condition{Field: "timestamp", Operator: domain.OpLessThan, Value: "2025-06-16T00:00:00Z", Type: domain.TypeDate}
		if !EvaluateCondition(cond, tx) {
			t.Error("expected timestamp before RFC3339 literal")
		}
	})

	t.Run("TimeOfDay", func(t *testing.T) {
		cond := domain.Condition{Field: "timestamp", Operator: domain.OpGreaterOrEqual, Value: "23:00", Type: domain.TypeDate}
		if !EvaluateCondition(cond, tx) {
			t.Error("expected 23:30 to be >= 23:00")
		}

		cond.Value = "23:45"
		if EvaluateCondition(cond, tx) {
			t.Error("expected 23:30 to be < 23:45")
		}
	})

	t.Run("UnparsableDate", func(t *testing.T) {
		cond := domain.Condition{Field: "timestamp", Operator: domain.OpGreaterThan, Value: "yesterday", Type: domain.TypeDate}
		if EvaluateCondition(cond, tx) {
			t.Error("expected false for unparsable date literal")
		}
	})
}

func TestEvaluateConditionBoolean(t *testing.T) {
	tx := testTx()
	tx.Metadata["vip"] = true

	t.Run("Equals", func(t *testing.T) {
		cond := domain.Condition{Field: "vip", Operator: domain.OpEquals, Value: "true", Type: domain.TypeBoolean}
		if !EvaluateCondition(cond, tx) {
			t.Error("expected boolean equals to match")
		}
	})

	t.Run("NotEquals", func(t *testing.T) {
		cond := domain.Condition{Field: "vip", Operator: domain.OpNotEquals, Value: "false", Type: domain.TypeBoolean}
		if !EvaluateCondition(cond, tx) {
			t.Error("expected boolean notEquals to match")
		}
	})

	t.Run("OrderingUndefined", func(t *testing.T) {
		cond := domain.Condition{Field: "vip", Operator: domain.OpGreaterThan, Value: "false", Type: domain.TypeBoolean}
		if EvaluateCondition(cond, tx) {
			t.Error("expected ordering operators on booleans to be a non-match")
		}
	})
}
