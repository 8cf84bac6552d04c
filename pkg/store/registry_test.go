package store

import (
	"testing"
)

func TestRegisterAndComponent(t *testing.T) {
	r := NewRegistry()
	r.Register("gcc", "10.2.0")

	rec, err := r.Component("gcc")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Version != "10.2.0" {
		t.Errorf("expected version 10.2.0, got %s", rec.Version)
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Register("gcc", "10.2.0")
	if err := r.AddLicense("gcc", "/src/gcc/COPYING"); err != nil {
		t.Fatal(err)
	}

	r.Register("gcc", "10.2.0")

	rec, err := r.Component("gcc")
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Licenses) != 1 {
		t.Errorf("re-registering must not drop collected files, got %v", rec.Licenses)
	}
}

func TestAddToUnknownComponent(t *testing.T) {
	r := NewRegistry()
	if err := r.AddLicense("binutils", "/src/COPYING"); err != ErrComponentUnknown {
		t.Error("did not return the unknown component error")
	}
	if err := r.AddLog("binutils", "/logs/build.log"); err != ErrComponentUnknown {
		t.Error("did not return the unknown component error")
	}
}

func TestAddDeduplicatesPaths(t *testing.T) {
	r := NewRegistry()
	r.Register("newlib", "3.3.0")

	for i := 0; i < 3; i++ {
		if err := r.AddLicense("newlib", "/src/newlib/COPYING.NEWLIB"); err != nil {
			t.Fatal(err)
		}
		if err := r.AddLog("newlib", "/logs/build-newlib.log"); err != nil {
			t.Fatal(err)
		}
	}

	rec, err := r.Component("newlib")
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Licenses) != 1 || len(rec.Logs) != 1 {
		t.Errorf("expected deduplicated paths, got %v and %v", rec.Licenses, rec.Logs)
	}
}

func TestComponentsSorted(t *testing.T) {
	r := NewRegistry()
	r.Register("newlib", "3.3.0")
	r.Register("binutils", "2.36.1")
	r.Register("gcc", "10.2.0")

	names := r.Components()
	want := []string{"binutils", "gcc", "newlib"}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("expected %v, got %v", want, names)
			break
		}
	}
}

func TestComponentReturnsCopy(t *testing.T) {
	r := NewRegistry()
	r.Register("gcc", "10.2.0")
	if err := r.AddLicense("gcc", "/a"); err != nil {
		t.Fatal(err)
	}

	rec, err := r.Component("gcc")
	if err != nil {
		t.Fatal(err)
	}
	rec.Licenses[0] = "/mutated"

	again, err := r.Component("gcc")
	if err != nil {
		t.Fatal(err)
	}
	if again.Licenses[0] != "/a" {
		t.Error("Component must return a copy, not the internal slice")
	}
}
