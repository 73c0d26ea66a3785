package tools

import (
	"testing"

	"github.com/aurelia-labs/voiceorb/internal/realtime"
)

func TestRegisterAndList(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(realtime.ToolDescriptor{Name: "web_search", Description: "search the web"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(realtime.ToolDescriptor{Name: "calculator"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("List() = %d tools, want 2", len(list))
	}
	if list[0].Name != "calculator" || list[1].Name != "web_search" {
		t.Fatalf("List() order = %q, %q, want sorted by name", list[0].Name, list[1].Name)
	}
}

func TestRegisterRejectsEmptyName(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(realtime.ToolDescriptor{}); err == nil {
		t.Fatalf("Register() error = nil, want error for empty name")
	}
}

func TestLookup(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(realtime.ToolDescriptor{Name: "web_search"})
	if _, ok := r.Lookup("web_search"); !ok {
		t.Fatalf("Lookup(web_search) = false, want true")
	}
	if _, ok := r.Lookup("missing"); ok {
		t.Fatalf("Lookup(missing) = true, want false")
	}
}
