package flagstore

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flags.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestSetAndLoad(t *testing.T) {
	db := testDB(t)

	if err := db.SetFavorite("c1", true); err != nil {
		t.Fatal(err)
	}
	if err := db.SetPinned("c2", true); err != nil {
		t.Fatal(err)
	}
	if err := db.SetArchived("c3", true); err != nil {
		t.Fatal(err)
	}

	flags, err := db.LoadAll()
	if err != nil {
		t.Fatal(err)
	}
	if !flags.Favorites["c1"] || !flags.Pins["c2"] || !flags.Archived["c3"] {
		t.Errorf("flags = %+v", flags)
	}
	// Sets are namespaced: c1 is a favorite only.
	if flags.Pins["c1"] || flags.Archived["c1"] {
		t.Error("flag leaked across feature sets")
	}
}

func TestUnsetRemoves(t *testing.T) {
	db := testDB(t)

	if err := db.SetFavorite("c1", true); err != nil {
		t.Fatal(err)
	}
	if err := db.SetFavorite("c1", false); err != nil {
		t.Fatal(err)
	}

	flags, err := db.LoadAll()
	if err != nil {
		t.Fatal(err)
	}
	if flags.Favorites["c1"] {
		t.Error("favorite survived unset")
	}
}

func TestSetIdempotent(t *testing.T) {
	db := testDB(t)

	if err := db.SetPinned("c1", true); err != nil {
		t.Fatal(err)
	}
	if err := db.SetPinned("c1", true); err != nil {
		t.Fatalf("second set errored: %v", err)
	}

	flags, err := db.LoadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(flags.Pins) != 1 {
		t.Errorf("pins = %v, want single entry", flags.Pins)
	}
}

func TestFlagsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flags.db")

	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	if err := db.SetFavorite("c1", true); err != nil {
		t.Fatal(err)
	}
	if err := db.SetArchived("c2", true); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}

	flags, err := db.LoadAll()
	if err != nil {
		t.Fatal(err)
	}
	if !flags.Favorites["c1"] || !flags.Archived["c2"] {
		t.Errorf("flags lost across reopen: %+v", flags)
	}
}
