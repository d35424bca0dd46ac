package textgen

import (
	"errors"
	"testing"
)

func TestExtractJSONFragment(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"plain object", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"fenced upper", "```JSON\n[1,2]\n```", `[1,2]`},
		{"prose around object", `Sure! Here is the result: {"after_block": 2} Hope that helps.`, `{"after_block": 2}`},
		{"array", `the list is [1, 2, 3] ok`, `[1, 2, 3]`},
		{"no json", "there is nothing structured here", ""},
		{"empty", "   ", ""},
		{"unclosed fence", "```json\n{\"a\":1}", `{"a":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractJSONFragment(tc.raw); got != tc.want {
				t.Fatalf("ExtractJSONFragment(%q) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}

func TestDecodeJSONPayload(t *testing.T) {
	type decision struct {
		AfterBlock int    `json:"after_block"`
		Reason     string `json:"reason"`
	}
	got, err := DecodeJSONPayload[decision]("```json\n{\"after_block\": 3, \"reason\": \"fits context\"}\n```")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.AfterBlock != 3 || got.Reason != "fits context" {
		t.Fatalf("decoded = %+v", got)
	}

	if _, err := DecodeJSONPayload[decision]("no structure at all"); !errors.Is(err, ErrNoJSON) {
		t.Fatalf("err = %v, want ErrNoJSON", err)
	}

	if _, err := DecodeJSONPayload[decision]("{broken json"); err == nil {
		t.Fatalf("expected decode error for malformed json")
	}
}
