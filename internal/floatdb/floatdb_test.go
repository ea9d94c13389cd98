package floatdb

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"tradeup-scout/internal/items"
)

func TestLoadEmbedded(t *testing.T) {
	d, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(d.Collections()) == 0 {
		t.Fatal("no collections in embedded catalog")
	}

	r, ok := d.RangeFor(context.Background(), "AK-47 | Vulcan")
	if !ok {
		t.Fatal("known base name missing")
	}
	if r.Min != 0 || r.Max != 0.9 {
		t.Errorf("range = %+v, want {0 0.9}", r)
	}

	if _, ok := d.RangeFor(context.Background(), "ak-47 | vulcan"); !ok {
		t.Error("lookup should ignore case")
	}
	if _, ok := d.RangeFor(context.Background(), "StatTrak™ AK-47 | Vulcan (Factory New)"); !ok {
		t.Error("decorated name should resolve to the plain entry")
	}
	if _, ok := d.RangeFor(context.Background(), "Nope | Nothing"); ok {
		t.Error("unknown base name resolved")
	}
}

func TestCollectionByTag(t *testing.T) {
	d, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	c, ok := d.CollectionByTag("tag_SET_COMMUNITY_3")
	if !ok {
		t.Fatal("tag not resolved")
	}
	if c.Name != "The Huntsman Collection" {
		t.Errorf("name = %q", c.Name)
	}
	if got := len(c.SkinsOf(items.Covert)); got != 2 {
		t.Errorf("covert entries = %d, want 2", got)
	}
	if _, ok := d.CollectionByTag("set_unknown"); ok {
		t.Error("unknown tag resolved")
	}
}

func TestRemoteSupplementRunsOnce(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		fmt.Fprint(w, `[
			{"name":"MP5-SD | Lab Rats","min_float":0.06,"max_float":0.8},
			{"name":"AK-47 | Vulcan","min_float":0.1,"max_float":0.95},
			{"name":"Broken | Entry","min_float":0.9,"max_float":0.1}
		]`)
	}))
	defer srv.Close()

	d, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	d.SetRemote(srv.URL)

	r, ok := d.RangeFor(context.Background(), "MP5-SD | Lab Rats")
	if !ok || r.Min != 0.06 || r.Max != 0.8 {
		t.Errorf("remote range = %+v, %v", r, ok)
	}

	// Duplicate base names widen the known range instead of
	// replacing it.
	r, _ = d.RangeFor(context.Background(), "AK-47 | Vulcan")
	if r.Min != 0 || r.Max != 0.95 {
		t.Errorf("merged range = %+v, want {0 0.95}", r)
	}

	if _, ok := d.RangeFor(context.Background(), "Broken | Entry"); ok {
		t.Error("degenerate remote range accepted")
	}

	d.RangeFor(context.Background(), "Still | Unknown")
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("remote fetches = %d, want 1", n)
	}
}

func TestRemoteFailureSticks(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	d.SetRemote(srv.URL)

	for i := 0; i < 3; i++ {
		if _, ok := d.RangeFor(context.Background(), "Missing | Skin"); ok {
			t.Fatal("miss resolved after remote failure")
		}
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("remote fetches = %d, want 1 (failure must stick)", n)
	}
}
