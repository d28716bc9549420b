package artifact

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStorePaths(t *testing.T) {
	s, err := NewStore(t.TempDir(), "morning_routine")
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		got, want string
	}{
		{s.DraftVideo(), "morning_routine_draft.mp4"},
		{s.FinalVideo(), "morning_routine_final.mp4"},
		{s.AttemptVideo(2), "morning_routine_attempt2_final.mp4"},
		{s.RatingPath(1), "morning_routine_attempt1_rating.json"},
		{s.SafetyPath(3), "morning_routine_attempt3_safety.json"},
		{s.SummaryPath(), "morning_routine_summary.json"},
	}
	for _, tt := range tests {
		if filepath.Base(tt.got) != tt.want {
			t.Errorf("got %s, want %s", filepath.Base(tt.got), tt.want)
		}
		if filepath.Dir(tt.got) != s.Dir {
			t.Errorf("%s not under %s", tt.got, s.Dir)
		}
	}
}

func TestNewStoreRequiresID(t *testing.T) {
	if _, err := NewStore(t.TempDir(), ""); err == nil {
		t.Fatal("expected error for empty id")
	}
}

func TestTempPathKeepsExtension(t *testing.T) {
	got := TempPath("/out/reel_final.mp4")
	want := "/out/.reel_final.tmp.mp4"
	if got != want {
		t.Errorf("TempPath = %s, want %s", got, want)
	}
}

func TestWriteJSONReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.json")

	if err := WriteJSON(path, map[string]int{"score": 5}); err != nil {
		t.Fatal(err)
	}
	if err := WriteJSON(path, map[string]int{"score": 9}); err != nil {
		t.Fatal(err)
	}

	var got map[string]int
	if err := ReadJSON(path, &got); err != nil {
		t.Fatal(err)
	}
	if got["score"] != 9 {
		t.Errorf("score = %d, want 9", got["score"])
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("leftover temp files: %v", names)
	}
}

func TestPromote(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.mp4")
	dst := filepath.Join(dir, "b.mp4")
	if err := os.WriteFile(src, []byte("video"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := Promote(src, dst); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(dst)
	if err != nil || string(data) != "video" {
		t.Fatalf("dst = %q, %v", data, err)
	}
	if _, err := os.Stat(src); err != nil {
		t.Errorf("src removed: %v", err)
	}
}
