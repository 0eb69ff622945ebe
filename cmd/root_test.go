package cmd

import "testing"

func TestPromptFromArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"quoted prompt", []string{"tell me a joke"}, "tell me a joke"},
		{"unquoted words", []string{"tell", "me", "a", "joke"}, "tell me a joke"},
		{"single word", []string{"hi"}, "hi"},
		{"no args", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := promptFromArgs(tt.args); got != tt.want {
				t.Errorf("promptFromArgs(%q) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}
