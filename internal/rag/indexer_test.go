package rag

import "testing"

func TestIndexDoesNotBlockAndBecomesReady(t *testing.T) {
	m := NewMemory(nil)

	docs := []Document{
		{ID: "d1", Name: "notes", Content: "goroutines and channels"},
		{ID: "d2", Name: "guide", Content: "channels connect goroutines"},
	}
	m.Index(docs)
	m.Wait()

	if !m.Ready() {
		t.Fatal("Ready()=false after Wait, want true")
	}
}

func TestSearchRanksByTermCount(t *testing.T) {
	m := NewMemory(nil)
	m.Index([]Document{
		{ID: "d1", Name: "notes", Content: "channels channels channels"},
		{ID: "d2", Name: "guide", Content: "channels once"},
	})
	m.Wait()

	results := m.Search("channels", 5)
	if len(results) != 2 {
		t.Fatalf("len(results)=%d, want 2", len(results))
	}
	if results[0].ID != "d1" {
		t.Fatalf("top result=%s, want d1", results[0].ID)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	m := NewMemory(nil)
	m.Index([]Document{{ID: "d1", Name: "notes", Content: "anything"}})
	m.Wait()

	if got := m.Search("  ", 5); got != nil {
		t.Fatalf("Search(blank)=%v, want nil", got)
	}
}

func TestIndexEmptyIsImmediatelyReady(t *testing.T) {
	m := NewMemory(nil)
	m.Index(nil)
	if !m.Ready() {
		t.Fatal("Ready()=false for empty index, want true")
	}
}
