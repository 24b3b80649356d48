package accessory

import (
	"errors"
	"testing"
)

type regEvent struct {
	position int
	id       string
	inserted bool
}

func newTestRegistry() (*Registry, *[]regEvent) {
	reg := NewRegistry()
	events := &[]regEvent{}
	reg.SetChangeListener(func(position int, id string, inserted bool) {
		*events = append(*events, regEvent{position, id, inserted})
	})
	return reg, events
}

func TestRegistry_InsertAssignsPositions(t *testing.T) {
	reg, events := newTestRegistry()

	for i, id := range []string{"a", "b", "c"} {
		pos, err := reg.Insert(&Record{UniqueID: id})
		if err != nil {
			t.Fatalf("Insert(%s) failed: %v", id, err)
		}
		if pos != i {
			t.Errorf("Insert(%s): got position %d, want %d", id, pos, i)
		}
	}

	if len(*events) != 3 {
		t.Fatalf("expected 3 change events, got %d", len(*events))
	}
	if ev := (*events)[2]; ev.position != 2 || ev.id != "c" || !ev.inserted {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestRegistry_RejectsDuplicateID(t *testing.T) {
	reg, events := newTestRegistry()

	if _, err := reg.Insert(&Record{UniqueID: "a"}); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	_, err := reg.Insert(&Record{UniqueID: "a"})
	if !errors.Is(err, ErrDuplicateDevice) {
		t.Errorf("expected ErrDuplicateDevice, got %v", err)
	}
	if reg.Len() != 1 {
		t.Errorf("registry holds %d records, want 1", reg.Len())
	}
	if len(*events) != 1 {
		t.Errorf("duplicate insert fired a change event")
	}
}

func TestRegistry_RemoveShiftsPositions(t *testing.T) {
	reg, events := newTestRegistry()
	reg.Insert(&Record{UniqueID: "a"})
	reg.Insert(&Record{UniqueID: "b"})
	reg.Insert(&Record{UniqueID: "c"})

	if err := reg.Remove(1); err != nil {
		t.Fatalf("Remove(1) failed: %v", err)
	}
	if ev := (*events)[len(*events)-1]; ev.position != 1 || ev.id != "b" || ev.inserted {
		t.Errorf("unexpected removal event %+v", ev)
	}
	if got := reg.IndexOf("c"); got != 1 {
		t.Errorf("after removal, IndexOf(c) = %d, want 1", got)
	}
}

func TestRegistry_RemoveOutOfRange(t *testing.T) {
	reg, _ := newTestRegistry()
	reg.Insert(&Record{UniqueID: "a"})

	for _, pos := range []int{-1, 1, 99} {
		if err := reg.Remove(pos); !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("Remove(%d): expected ErrIndexOutOfRange, got %v", pos, err)
		}
	}
}

func TestRegistry_RemoveReleasesChannels(t *testing.T) {
	reg, _ := newTestRegistry()
	rec := &Record{UniqueID: "a", Status: StatusDiscovered}
	rec.pairing.resolve(&writerChar{uuid: "p"})
	rec.inbound.resolve(&writerChar{uuid: "i"})
	rec.outbound.resolve(&writerChar{uuid: "o"})
	reg.Insert(rec)

	if err := reg.Remove(0); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if rec.pairing.resolved() || rec.inbound.resolved() || rec.outbound.resolved() {
		t.Error("removal did not release channel handles")
	}
}

func TestRegistry_LookupNeverMutates(t *testing.T) {
	reg, events := newTestRegistry()
	reg.Insert(&Record{UniqueID: "a"})

	if reg.Lookup("a") == nil {
		t.Error("Lookup(a) returned nil")
	}
	if reg.Lookup("missing") != nil {
		t.Error("Lookup(missing) returned a record")
	}
	if len(*events) != 1 {
		t.Error("Lookup fired change events")
	}
}

func TestRegistry_SnapshotDetached(t *testing.T) {
	reg, _ := newTestRegistry()
	reg.Insert(&Record{UniqueID: "a", DisplayName: "Tag A", Status: StatusDiscovered})
	reg.Insert(&Record{UniqueID: "b", DisplayName: "Tag B", Status: StatusConnected})

	snap := reg.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot has %d entries, want 2", len(snap))
	}

	// Mutating the registry after the snapshot must not affect it.
	reg.Remove(0)
	if snap[0].UniqueID != "a" || snap[0].DisplayName != "Tag A" {
		t.Error("snapshot changed after registry mutation")
	}

	// Snapshot entries carry no live references, so writes to them are
	// invisible to the registry.
	snap[1].DisplayName = "scribbled"
	if reg.Lookup("b").DisplayName != "Tag B" {
		t.Error("snapshot write leaked into the registry")
	}
}

func TestRegistry_NoDuplicateIDsEver(t *testing.T) {
	reg, _ := newTestRegistry()

	// Arbitrary interleaving of inserts and removals.
	ops := []struct {
		insert bool
		id     string
		pos    int
	}{
		{true, "a", 0}, {true, "b", 0}, {false, "", 0},
		{true, "a", 0}, {true, "c", 0}, {false, "", 1},
		{true, "b", 0}, {true, "b", 0}, // second b must fail
	}
	for _, op := range ops {
		if op.insert {
			reg.Insert(&Record{UniqueID: op.id})
		} else {
			reg.Remove(op.pos)
		}

		seen := map[string]bool{}
		for _, v := range reg.Snapshot() {
			if seen[v.UniqueID] {
				t.Fatalf("duplicate id %s in registry", v.UniqueID)
			}
			seen[v.UniqueID] = true
		}
	}
}
