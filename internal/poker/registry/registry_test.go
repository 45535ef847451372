package registry

import "testing"

func TestBindResolveUnbind(t *testing.T) {
	r := New()
	r.Bind("conn-1", "ABCD1234", "Alice", false)

	binding, ok := r.Resolve("conn-1")
	if !ok {
		t.Fatal("bound connection should resolve")
	}
	if binding.SessionCode != "ABCD1234" || binding.PlayerName != "Alice" || binding.IsSpectator {
		t.Fatalf("unexpected binding: %+v", binding)
	}

	r.Unbind("conn-1")
	if _, ok := r.Resolve("conn-1"); ok {
		t.Fatal("unbound connection should not resolve")
	}

	// Unbinding an unknown id is a no-op.
	r.Unbind("conn-unknown")
}

func TestListBySessionReadYourWrites(t *testing.T) {
	r := New()
	if got := r.ListBySession("ABCD1234"); len(got) != 0 {
		t.Fatalf("empty session listed %d bindings", len(got))
	}

	r.Bind("conn-1", "ABCD1234", "Alice", false)
	r.Bind("conn-2", "ABCD1234", "Bob", true)
	r.Bind("conn-3", "ZZZZ9999", "Eve", false)

	bindings := r.ListBySession("ABCD1234")
	if len(bindings) != 2 {
		t.Fatalf("listed %d bindings, want 2", len(bindings))
	}
	names := map[string]bool{}
	for _, b := range bindings {
		names[b.PlayerName] = true
	}
	if !names["Alice"] || !names["Bob"] {
		t.Fatalf("unexpected bindings: %v", names)
	}

	r.Unbind("conn-1")
	if got := r.ListBySession("ABCD1234"); len(got) != 1 {
		t.Fatalf("listed %d bindings after unbind, want 1", len(got))
	}
}

func TestRebindSupersedesOldConnection(t *testing.T) {
	r := New()
	r.Bind("conn-old", "ABCD1234", "Alice", false)
	r.Bind("conn-new", "ABCD1234", "Alice", false)

	if _, ok := r.Resolve("conn-old"); ok {
		t.Fatal("superseded connection should be dropped")
	}
	binding, ok := r.Resolve("conn-new")
	if !ok || binding.PlayerName != "Alice" {
		t.Fatal("new connection should own the player name")
	}

	bindings := r.ListBySession("ABCD1234")
	if len(bindings) != 1 || bindings[0].ConnID != "conn-new" {
		t.Fatalf("session should list only the new connection: %+v", bindings)
	}
}

func TestUnbindStaleConnectionKeepsReconnectedPlayer(t *testing.T) {
	r := New()
	r.Bind("conn-old", "ABCD1234", "Alice", false)
	r.Bind("conn-new", "ABCD1234", "Alice", false)

	// The old transport closing late must not evict the reconnected player.
	r.Unbind("conn-old")
	bindings := r.ListBySession("ABCD1234")
	if len(bindings) != 1 || bindings[0].ConnID != "conn-new" {
		t.Fatalf("stale unbind evicted the live binding: %+v", bindings)
	}
}

func TestDropSession(t *testing.T) {
	r := New()
	r.Bind("conn-1", "ABCD1234", "Alice", false)
	r.Bind("conn-2", "ABCD1234", "Bob", true)

	dropped := r.DropSession("ABCD1234")
	if len(dropped) != 2 {
		t.Fatalf("dropped %d bindings, want 2", len(dropped))
	}
	if got := r.ListBySession("ABCD1234"); len(got) != 0 {
		t.Fatal("session still has bindings after drop")
	}
	if _, ok := r.Resolve("conn-1"); ok {
		t.Fatal("dropped connection should not resolve")
	}
}
