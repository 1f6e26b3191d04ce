package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadSubmission(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name       string
		file       string
		content    string
		wantID     string
		wantFields int
		wantErr    bool
	}{
		{
			name: "yaml with explicit id",
			file: "form.yaml",
			content: `response_id: r1
user_id: u1
answers:
  - field: my_name
    text: Alex
  - field: activities
    choices: [tie up, gag]
`,
			wantID:     "r1",
			wantFields: 2,
		},
		{
			name:       "json falls back to file stem",
			file:       "resp-42.json",
			content:    `{"user_id":"u1","answers":[{"field":"my_name","text":"Alex"}]}`,
			wantID:     "resp-42",
			wantFields: 1,
		},
		{
			name:    "malformed",
			file:    "bad.json",
			content: `{"answers":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			in, err := readSubmission(path)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("readSubmission: %v", err)
			}
			if in.ResponseID != tt.wantID {
				t.Errorf("ResponseID = %q, want %q", in.ResponseID, tt.wantID)
			}
			if len(in.Answers) != tt.wantFields {
				t.Errorf("answers = %d, want %d", len(in.Answers), tt.wantFields)
			}
		})
	}

	if _, err := readSubmission(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}
}
