package repo

import (
	"strings"
	"testing"
)

func TestParseOrigin(t *testing.T) {
	tests := []struct {
		name    string
		origin  string
		owner   string
		repo    string
		wantErr bool
	}{
		{"ssh", "git@github.com:zulandar/dronehub.git", "zulandar", "dronehub", false},
		{"https", "https://github.com/zulandar/dronehub.git", "zulandar", "dronehub", false},
		{"https no suffix", "https://github.com/zulandar/dronehub", "zulandar", "dronehub", false},
		{"trailing whitespace", "git@github.com:a/b.git\n", "a", "b", false},
		{"gitlab", "git@gitlab.com:a/b.git", "", "", true},
		{"empty", "", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner, repo, err := ParseOrigin(tt.origin)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if owner != tt.owner || repo != tt.repo {
				t.Errorf("got %s/%s, want %s/%s", owner, repo, tt.owner, tt.repo)
			}
		})
	}
}

func TestConflictFiles(t *testing.T) {
	out := `Checking patch internal/hub/server.go...
error: patch failed: internal/hub/server.go:42
error: internal/hub/server.go: patch does not apply
error: patch failed: cmd/dronehub/main.go:7
`
	files := conflictFiles(out)
	if len(files) != 2 {
		t.Fatalf("files = %v, want 2 entries", files)
	}
	if files[0] != "internal/hub/server.go" || files[1] != "cmd/dronehub/main.go" {
		t.Errorf("files = %v", files)
	}
}

func TestConflictFiles_NoConflicts(t *testing.T) {
	if files := conflictFiles("fatal: unrecognized input"); files != nil {
		t.Errorf("files = %v, want nil", files)
	}
}

func TestConflictError_Message(t *testing.T) {
	err := &ConflictError{PatchName: "fix.patch", ConflictFiles: []string{"a.go", "b.go"}}
	if !strings.Contains(err.Error(), "fix.patch") || !strings.Contains(err.Error(), "2 file(s)") {
		t.Errorf("message = %q", err.Error())
	}
}
