package storage

import (
	"testing"
	"time"
)

func sampleLines() []ArchivedLine {
	return []ArchivedLine{
		{ID: "1", Role: "user", Text: "hello", Timestamp: time.Now().Format(time.RFC3339)},
		{ID: "2", Role: "assistant", Text: "hi there", Timestamp: time.Now().Format(time.RFC3339)},
	}
}

func TestArchiveSaveLoadDelete(t *testing.T) {
	a := NewArchive(t.TempDir())

	uid, err := a.Save(sampleLines())
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	lines, err := a.Load(uid)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if lines[1].Text != "hi there" {
		t.Fatalf("Text = %q, want %q", lines[1].Text, "hi there")
	}

	if !a.Delete(uid) {
		t.Fatalf("Delete() = false, want true")
	}
	if a.Delete(uid) {
		t.Fatalf("second Delete() = true, want false")
	}
}

func TestArchiveRejectsEmptyTranscript(t *testing.T) {
	a := NewArchive(t.TempDir())
	if _, err := a.Save(nil); err == nil {
		t.Fatalf("Save(nil) error = nil, want error")
	}
}

func TestArchiveList(t *testing.T) {
	a := NewArchive(t.TempDir())
	if _, err := a.Save(sampleLines()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	list := a.List()
	if len(list) != 1 {
		t.Fatalf("List() = %d entries, want 1", len(list))
	}
	if list[0].LineCount != 2 {
		t.Fatalf("LineCount = %d, want 2", list[0].LineCount)
	}
}

func TestArchiveLoadRejectsUnsafeUID(t *testing.T) {
	a := NewArchive(t.TempDir())
	if _, err := a.Load("../escape"); err == nil {
		t.Fatalf("Load() error = nil, want invalid uid error")
	}
}
