package console

import (
	"slices"
	"testing"

	"github.com/MrWong99/dmva/pkg/vocab"
)

func TestFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line    string
		want    []string
		wantErr bool
	}{
		{line: "open Physician", want: []string{"open", "Physician"}},
		{line: `confirm "Sign the order?"`, want: []string{"confirm", "Sign the order?"}},
		{line: `choice '[{"literal":"a b","value":"x"}]'`, want: []string{"choice", `[{"literal":"a b","value":"x"}]`}},
		{line: `text it\'s  fine`, want: []string{"text", "it's", "fine"}},
		{line: `say ""`, want: []string{"say", ""}},
		{line: `confirm "oops`, wantErr: true},
		{line: `text trailing\`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			t.Parallel()
			got, err := fields(tt.line)
			if (err != nil) != tt.wantErr {
				t.Fatalf("fields(%q) error = %v, wantErr %v", tt.line, err, tt.wantErr)
			}
			if !tt.wantErr && !slices.Equal(got, tt.want) {
				t.Errorf("fields(%q) = %q, want %q", tt.line, got, tt.want)
			}
		})
	}
}

func TestParsePairs(t *testing.T) {
	t.Parallel()

	got, err := parsePairs(" Eldrinax = ELD-100 ,Grimjaw,, ")
	if err != nil {
		t.Fatalf("parsePairs() unexpected error: %v", err)
	}
	want := []vocab.Pair{{Literal: "Eldrinax", Value: "ELD-100"}, {Literal: "Grimjaw", Value: "Grimjaw"}}
	if !slices.Equal(got, want) {
		t.Errorf("parsePairs() = %v, want %v", got, want)
	}

	if _, err := parsePairs("=orphan"); err == nil {
		t.Error("parsePairs(=orphan) = nil error")
	}
}

func TestParseOptions(t *testing.T) {
	t.Parallel()

	got, err := parseOptions([]string{"user_id=dr-who", "lang=en"})
	if err != nil {
		t.Fatalf("parseOptions() unexpected error: %v", err)
	}
	if got["user_id"] != "dr-who" || got["lang"] != "en" {
		t.Errorf("parseOptions() = %v", got)
	}
	if opts, _ := parseOptions(nil); opts != nil {
		t.Errorf("parseOptions(nil) = %v, want nil", opts)
	}
}
