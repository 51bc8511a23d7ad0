package detect

import (
	"os"
	"path/filepath"
	"testing"
)

func writeLabels(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.onnx.names")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadLabels(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
		wantErr bool
	}{
		{
			name:    "plain table",
			content: "aspirin\nibuprofen\nmetformin\n",
			want:    []string{"aspirin", "ibuprofen", "metformin"},
		},
		{
			name:    "blank lines and whitespace skipped",
			content: "aspirin\n\n  ibuprofen  \n\n",
			want:    []string{"aspirin", "ibuprofen"},
		},
		{
			name:    "no trailing newline",
			content: "tray\nbackground",
			want:    []string{"tray", "background"},
		},
		{
			name:    "empty file",
			content: "",
			wantErr: true,
		},
		{
			name:    "only whitespace",
			content: "\n  \n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			labels, err := LoadLabels(writeLabels(t, tt.content))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(labels) != len(tt.want) {
				t.Fatalf("got %v, want %v", labels, tt.want)
			}
			for i := range tt.want {
				if labels[i] != tt.want[i] {
					t.Errorf("label %d = %q, want %q", i, labels[i], tt.want[i])
				}
			}
		})
	}
}

func TestLoadLabelsMissingFile(t *testing.T) {
	if _, err := LoadLabels(filepath.Join(t.TempDir(), "missing.names")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
