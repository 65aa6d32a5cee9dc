package storage

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/wpshift/wpshift/pkg/history"
)

func TestObjectKey(t *testing.T) {
	tests := []struct {
		sessionID string
		want      string
	}{
		{"run-1", "sessions/run-1/audit.json"},
		{"9b2f6c1e-3a4d-4f5e-8a7b-0c1d2e3f4a5b", "sessions/9b2f6c1e-3a4d-4f5e-8a7b-0c1d2e3f4a5b/audit.json"},
	}
	for _, tt := range tests {
		if got := objectKey(tt.sessionID); got != tt.want {
			t.Errorf("objectKey(%q) = %q, want %q", tt.sessionID, got, tt.want)
		}
	}
}

func TestManifestShape(t *testing.T) {
	manifest := Manifest{
		Session: &history.Session{
			ID:         "run-1",
			SourceHost: "src.example.com",
			TargetHost: "tgt.example.com",
			Status:     history.StatusCompleted,
			DBBytes:    4096,
			DBChecksum: "abc123",
		},
		Entries: []*history.LogEntry{
			{SessionID: "run-1", Level: "info", Step: "validate", Message: "check passed"},
			{SessionID: "run-1", Level: "warn", Step: "post_migration", Message: "probe failed"},
		},
		ArchivedAt: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
	}

	body, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded struct {
		Session struct {
			ID     string `json:"ID"`
			Status string `json:"Status"`
		} `json:"session"`
		Entries    []struct{ Message string } `json:"entries"`
		ArchivedAt time.Time                  `json:"archived_at"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if decoded.Session.ID != "run-1" || decoded.Session.Status != history.StatusCompleted {
		t.Fatalf("session = %+v", decoded.Session)
	}
	if len(decoded.Entries) != 2 || decoded.Entries[1].Message != "probe failed" {
		t.Fatalf("entries = %+v", decoded.Entries)
	}
	if !decoded.ArchivedAt.Equal(manifest.ArchivedAt) {
		t.Fatalf("archived_at = %v", decoded.ArchivedAt)
	}
	if !strings.Contains(string(body), `"archived_at"`) {
		t.Fatalf("body missing archived_at field: %s", body)
	}
}
