package llm

import "testing"

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"bare object", `{"a":1}`, `{"a":1}`, false},
		{"prose around", "Here is the result:\n{\"a\": 1}\nHope that helps!", `{"a": 1}`, false},
		{"markdown fence", "```json\n{\"a\":1}\n```", `{"a":1}`, false},
		{"nested objects", `{"a":{"b":{"c":3}}}`, `{"a":{"b":{"c":3}}}`, false},
		{"first of two", `{"a":1} {"b":2}`, `{"a":1}`, false},
		{"brace in string", `{"text":"closing } inside"}`, `{"text":"closing } inside"}`, false},
		{"escaped quote in string", `{"text":"say \"}\" now"}`, `{"text":"say \"}\" now"}`, false},
		{"no object", "sorry, I cannot do that", "", true},
		{"unbalanced", `{"a": {"b": 1}`, "", true},
		{"empty response", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSONObject(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ExtractJSONObject() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ExtractJSONObject() = %q, want %q", got, tt.want)
			}
		})
	}
}
