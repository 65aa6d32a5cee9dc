package remote

import (
	"context"
	"testing"
)

func TestFakeResultsLongestMatchWins(t *testing.T) {
	fake := &Fake{
		Results: map[string]CommandResult{
			"mysql":          {Stdout: "broad"},
			"mysql --host":   {Stdout: "specific"},
			"mysqldump":      {Stdout: "dump"},
			"something else": {Stdout: "unrelated"},
		},
	}

	tests := []struct {
		command string
		want    string
	}{
		{"mysql --host db.local wp", "specific"},
		{"mysql wp", "broad"},
		{"mysqldump wp", "dump"},
		{"hostname", ""},
	}
	for _, tt := range tests {
		res, err := fake.Run(context.Background(), tt.command)
		if err != nil {
			t.Fatalf("Run(%q): %v", tt.command, err)
		}
		if res.Stdout != tt.want {
			t.Errorf("Run(%q) stdout = %q, want %q", tt.command, res.Stdout, tt.want)
		}
	}
}
