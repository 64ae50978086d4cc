package store_test

import (
	"errors"
	"testing"
	"time"

	"github.com/ipsleuth/ipsleuth/lib/store"
	"github.com/ipsleuth/ipsleuth/lib/store/memory"
)

func TestJSONRoundTrip(t *testing.T) {
	type payload struct {
		Body      string    `json:"body"`
		FetchedAt time.Time `json:"fetched_at"`
	}

	st := memory.New(t.Context())
	db := store.JSON[payload]{
		Underlying: st,
		Prefix:     "script:",
	}

	want := payload{Body: "var x = 1;", FetchedAt: time.Now().UTC().Truncate(time.Second)}
	if err := db.Set(t.Context(), "abc", want, time.Minute); err != nil {
		t.Fatal(err)
	}

	got, err := db.Get(t.Context(), "abc")
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("round trip changed the value: got %+v, want %+v", got, want)
	}

	// The prefix is part of the underlying key.
	if _, err := st.Get(t.Context(), "script:abc"); err != nil {
		t.Errorf("value not stored under prefixed key: %v", err)
	}

	if err := db.Delete(t.Context(), "abc"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Get(t.Context(), "abc"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("want ErrNotFound after delete, got: %v", err)
	}
}

func TestJSONDecodeFailure(t *testing.T) {
	st := memory.New(t.Context())
	db := store.JSON[struct{ ID string }]{Underlying: st, Prefix: "script:"}

	if err := st.Set(t.Context(), "script:bad", []byte("}"), time.Minute); err != nil {
		t.Fatal(err)
	}

	if _, err := db.Get(t.Context(), "bad"); !errors.Is(err, store.ErrCantDecode) {
		t.Fatalf("want ErrCantDecode for a malformed value, got: %v", err)
	}
}
