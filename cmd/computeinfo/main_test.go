//go:build !nogpu

package main

import (
	"strings"
	"testing"
)

func TestRun(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		wantErr string
	}{
		{"software", "software", ""},
		{"noop", "noop", ""},
		{"unknown", "glide", `unknown backend "glide"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(tt.backend, 2)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("run(%q) = %v, want nil", tt.backend, err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("run(%q) = %v, want error containing %q", tt.backend, err, tt.wantErr)
			}
		})
	}
}
