package cluster

import (
	"slices"
	"testing"
)

func TestAddressBook_Static(t *testing.T) {
	book := NewAddressBook(nil,
		Member{ID: "store-a", Role: RoleStore, RPCAddr: "10.0.0.1:7100"},
		Member{ID: "store-b", Role: RoleStore, RPCAddr: "10.0.0.2:7100"},
		Member{ID: "coord", Role: RoleCoordinator, RPCAddr: "10.0.0.9:7100"},
	)

	tests := []struct {
		id   string
		want string
		ok   bool
	}{
		{"store-a", "10.0.0.1:7100", true},
		{"coord", "10.0.0.9:7100", true},
		{"missing", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, ok := book.Resolve(tt.id)
			if got != tt.want || ok != tt.ok {
				t.Errorf("Resolve(%q) = %q, %v; want %q, %v", tt.id, got, ok, tt.want, tt.ok)
			}
		})
	}

	if got := book.IDs(RoleStore); !slices.Equal(got, []string{"store-a", "store-b"}) {
		t.Errorf("IDs(store) = %v", got)
	}
}

func TestAddressBook_Set(t *testing.T) {
	book := NewAddressBook(nil)
	book.Set(Member{ID: "store-a", Role: RoleStore})

	if _, ok := book.Resolve("store-a"); ok {
		t.Error("entry without address should not resolve")
	}

	book.Set(Member{ID: "store-a", Role: RoleStore, RPCAddr: "127.0.0.1:9000"})
	if got, ok := book.Resolve("store-a"); !ok || got != "127.0.0.1:9000" {
		t.Errorf("Resolve after Set = %q, %v", got, ok)
	}
}

func TestAddressBook_GossipOverridesStatic(t *testing.T) {
	d := newTestDiscovery(t, "store-6", RoleStore)
	book := NewAddressBook(d, Member{ID: "store-6", Role: RoleStore, RPCAddr: "stale:1"})

	eventually(t, "local member", func() bool { return len(d.Members(RoleStore)) == 1 })

	if got, _ := book.Resolve("store-6"); got != "127.0.0.1:16" {
		t.Errorf("Resolve = %q, want gossip address", got)
	}
	if got := book.IDs(RoleStore); !slices.Equal(got, []string{"store-6"}) {
		t.Errorf("IDs(store) = %v", got)
	}
}
