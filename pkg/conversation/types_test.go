package conversation

import (
	"testing"
	"time"
)

func TestNextFieldFollowsFixedOrder(t *testing.T) {
	st := newState("+1", time.Now())

	for _, want := range FieldOrder {
		got, ok := st.NextField()
		if !ok || got != want {
			t.Fatalf("NextField = %q/%v, want %q", got, ok, want)
		}
		st.Collected[want] = "value"
	}

	if got, ok := st.NextField(); ok || got != FieldNone {
		t.Fatalf("NextField after all collected = %q/%v, want none", got, ok)
	}
}

func TestCompleteRequiresStart(t *testing.T) {
	st := newState("+1", time.Now())
	for _, field := range FieldOrder {
		st.Collected[field] = "x"
	}
	if st.Complete() {
		t.Fatal("expected not complete before start")
	}
	st.Started = true
	if !st.Complete() {
		t.Fatal("expected complete")
	}
}

func TestAppendSkipsBlank(t *testing.T) {
	st := newState("+1", time.Now())
	st.Append(RoleUser, "  ", time.Now())
	st.Append(RoleUser, " hi ", time.Now())

	if len(st.Transcript) != 1 || st.Transcript[0].Text != "hi" {
		t.Fatalf("transcript = %#v", st.Transcript)
	}
}

func TestFieldLabel(t *testing.T) {
	tests := map[Field]string{
		FieldFirstName: "first name",
		FieldIncome:    "annual income",
		FieldNone:      "",
	}
	for field, want := range tests {
		if got := field.Label(); got != want {
			t.Fatalf("%q.Label() = %q, want %q", field, got, want)
		}
	}
}
