package jobmanagement

import (
	"fmt"
	"testing"
)

func TestAppendEvictsOldest(t *testing.T) {
	l := NewExecutionLog(3)
	for i := 1; i <= 5; i++ {
		l.Append("scn-1", "info", fmt.Sprintf("line %d", i))
	}

	entries, total := l.Tail("scn-1", 0)
	if total != 3 {
		t.Fatalf("total = %d, want 3 retained lines", total)
	}
	want := []string{"line 3", "line 4", "line 5"}
	for i, msg := range want {
		if entries[i].Message != msg {
			t.Errorf("entries[%d].Message = %q, want %q", i, entries[i].Message, msg)
		}
	}
}

func TestAppendRecordsLevelAndTimestamp(t *testing.T) {
	l := NewExecutionLog(10)
	l.Append("scn-1", "warning", "Cancellation requested by user")

	entries, _ := l.Tail("scn-1", 0)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Level != "warning" {
		t.Errorf("Level = %q, want warning", entries[0].Level)
	}
	if entries[0].Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
}

func TestTailLimit(t *testing.T) {
	l := NewExecutionLog(10)
	for i := 1; i <= 5; i++ {
		l.Append("scn-1", "info", fmt.Sprintf("line %d", i))
	}

	entries, total := l.Tail("scn-1", 2)
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(entries) != 2 || entries[0].Message != "line 4" || entries[1].Message != "line 5" {
		t.Errorf("Tail(2) = %v, want the newest two lines", entries)
	}

	if entries, _ := l.Tail("scn-1", 50); len(entries) != 5 {
		t.Errorf("Tail beyond total returned %d entries, want 5", len(entries))
	}
}

func TestTailUnknownScenario(t *testing.T) {
	l := NewExecutionLog(10)
	entries, total := l.Tail("missing", 10)
	if total != 0 || len(entries) != 0 {
		t.Errorf("Tail on unknown scenario = %v (total %d), want empty", entries, total)
	}
}

func TestResetAndClear(t *testing.T) {
	l := NewExecutionLog(10)
	l.Append("scn-1", "info", "old run line")

	l.Reset("scn-1")
	if _, total := l.Tail("scn-1", 0); total != 0 {
		t.Errorf("total after Reset = %d, want 0", total)
	}

	l.Append("scn-1", "info", "new run line")
	l.Clear("scn-1")
	if _, total := l.Tail("scn-1", 0); total != 0 {
		t.Errorf("total after Clear = %d, want 0", total)
	}
}
