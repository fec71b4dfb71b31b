package monitor

import (
	"testing"

	"github.com/retailops/posflow/internal/domain"
)

func evalAgainst(t *testing.T, expr string, stats domain.WindowStats) bool {
	t.Helper()
	p, err := Parse(expr)
	if err != nil {
		t.Fatalf("Parse(%q): %v", expr, err)
	}
	v, err := Eval(p, &stats)
	if err != nil {
		t.Fatalf("Eval(%q): %v", expr, err)
	}
	return v
}

func TestPredicate_Eval(t *testing.T) {
	stats := domain.WindowStats{
		TxnCount:       4,
		GrossRevenue:   800,
		AvgTicket:      200,
		MaxTxnAmount:   500,
		StoreCount:     2,
		FlaggedCount:   1,
		UnresolvedRate: 0.25,
	}

	tests := []struct {
		expr string
		want bool
	}{
		{"txn_count < 5", true},
		{"txn_count >= 5", false},
		{"gross_revenue == 800", true},
		{"gross_revenue != 800", false},
		{"txn_count < 5 AND gross_revenue < 1000", true},
		{"txn_count < 5 AND gross_revenue > 1000", false},
		{"txn_count > 10 OR unresolved_rate > 0.2", true},
		{"NOT txn_count > 10", true},
		{"(txn_count < 5 OR store_count > 10) AND flagged_count >= 1", true},
		{"unresolved_rate > 0.5 OR (flagged_count >= 3 AND avg_ticket > 500)", false},
		{"max_txn_amount >= 500", true},
		{"txn_count < -1", false},
	}
	for _, tt := range tests {
		if got := evalAgainst(t, tt.expr, stats); got != tt.want {
			t.Errorf("%q = %v, want %v", tt.expr, got, tt.want)
		}
	}
}

func TestPredicate_ParseErrors(t *testing.T) {
	bad := []string{
		"",
		"txn_count <",
		"txn_count 5",
		"(txn_count < 5",
		"txn_count < 5 AND",
		"txn_count = 5",
		"txn_count < 5 garbage",
		"AND txn_count < 5",
	}
	for _, expr := range bad {
		if _, err := Parse(expr); err == nil {
			t.Errorf("Parse(%q): expected error, got nil", expr)
		}
	}
}

func TestPredicate_UnknownField(t *testing.T) {
	p, err := Parse("no_such_field > 1")
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	stats := domain.WindowStats{}
	if _, err := Eval(p, &stats); err == nil {
		t.Fatal("expected an evaluation error for unknown field")
	}
}

func TestPredicate_ShortCircuit(t *testing.T) {
	stats := domain.WindowStats{TxnCount: 100}
	// The right side references an unknown field but must not be evaluated.
	if got := evalAgainst(t, "txn_count > 1000 AND bogus > 1", stats); got {
		t.Error("expected false from short-circuited AND")
	}
	if got := evalAgainst(t, "txn_count > 10 OR bogus > 1", stats); !got {
		t.Error("expected true from short-circuited OR")
	}
}
