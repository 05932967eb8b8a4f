package types

import "testing"

func TestParseIntent(t *testing.T) {
	tests := []struct {
		in   string
		want Intent
	}{
		{in: "affirm", want: IntentAffirm},
		{in: " YES ", want: IntentAffirm},
		{in: "reject", want: IntentReject},
		{in: "correction", want: IntentCorrection},
		{in: "", want: IntentUnclear},
		{in: "maybe", want: IntentUnclear},
	}

	for _, tt := range tests {
		if got := ParseIntent(tt.in); got != tt.want {
			t.Fatalf("ParseIntent(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMetadataFields(t *testing.T) {
	if got := (Metadata{}).Fields(); got != nil {
		t.Fatalf("Fields() = %v, want nil", got)
	}

	fields := Metadata{
		Provider: "openai",
		Model:    "gpt-4o-mini",
		Usage:    &TokenUsage{InputTokens: 12, OutputTokens: 3, TotalTokens: 15},
	}.Fields()

	if fields["provider"] != "openai" {
		t.Fatalf("provider = %q", fields["provider"])
	}
	if fields[UsageTotalTokensKey] != "15" {
		t.Fatalf("%s = %q, want 15", UsageTotalTokensKey, fields[UsageTotalTokensKey])
	}
}

func TestMetadataFieldsSkipsZeroUsage(t *testing.T) {
	fields := Metadata{Provider: "openai", Usage: &TokenUsage{}}.Fields()
	if _, ok := fields[UsageTotalTokensKey]; ok {
		t.Fatalf("expected zero usage omitted, got %v", fields)
	}
}
