package accessory

import (
	"testing"
)

func TestKnownStore_RememberRecall(t *testing.T) {
	store := NewKnownStore(t.TempDir())

	if store.IsKnown("tag-1") {
		t.Error("empty store claims tag-1 is known")
	}

	if err := store.Remember("tag-1", "Key Tag"); err != nil {
		t.Fatalf("Remember failed: %v", err)
	}

	name, ok := store.Recall("tag-1")
	if !ok || name != "Key Tag" {
		t.Errorf("Recall(tag-1) = (%q, %v), want (Key Tag, true)", name, ok)
	}
	if !store.IsKnown("tag-1") {
		t.Error("IsKnown(tag-1) = false after Remember")
	}
}

func TestKnownStore_Overwrite(t *testing.T) {
	store := NewKnownStore(t.TempDir())
	store.Remember("tag-1", "Old Name")
	store.Remember("tag-1", "New Name")

	name, _ := store.Recall("tag-1")
	if name != "New Name" {
		t.Errorf("Recall after overwrite = %q, want New Name", name)
	}
}

func TestKnownStore_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()

	first := NewKnownStore(dir)
	if err := first.Remember("tag-1", "Key Tag"); err != nil {
		t.Fatalf("Remember failed: %v", err)
	}

	second := NewKnownStore(dir)
	name, ok := second.Recall("tag-1")
	if !ok || name != "Key Tag" {
		t.Errorf("fresh instance Recall = (%q, %v), want (Key Tag, true)", name, ok)
	}
}

func TestKnownStore_ForgetAll(t *testing.T) {
	store := NewKnownStore(t.TempDir())
	store.Remember("tag-1", "Key Tag")
	store.Remember("tag-2", "Bike Tag")

	if err := store.ForgetAll(); err != nil {
		t.Fatalf("ForgetAll failed: %v", err)
	}
	if store.IsKnown("tag-1") || store.IsKnown("tag-2") {
		t.Error("entries survived ForgetAll")
	}

	// Idempotent on an empty store.
	if err := store.ForgetAll(); err != nil {
		t.Errorf("second ForgetAll failed: %v", err)
	}
}
