package wamp

import "testing"

func TestResolveRegisteredPrefix(t *testing.T) {
	tbl := NewPrefixTable()
	tbl.Register("self", "wss://127.51.68.120/3dconnexion/")

	got := tbl.Resolve("self:read")
	want := "wss://127.51.68.120/3dconnexion/read"
	if got != want {
		t.Fatalf("Resolve() = %q, want %q", got, want)
	}
}

func TestResolveUnknownPrefixPassesThrough(t *testing.T) {
	tbl := NewPrefixTable()
	got := tbl.Resolve("bogus:read")
	if got != "bogus:read" {
		t.Fatalf("Resolve() = %q, want unchanged", got)
	}
}

func TestResolveNoColonPassesThrough(t *testing.T) {
	tbl := NewPrefixTable()
	got := tbl.Resolve("create")
	if got != "create" {
		t.Fatalf("Resolve() = %q, want unchanged", got)
	}
}
