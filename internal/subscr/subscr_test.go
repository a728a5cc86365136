package subscr_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/osmocom-go/smlcd/internal/subscr"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFindOrCreateReusesEntry(t *testing.T) {
	t.Parallel()

	reg := subscr.NewRegistry(newTestLogger())

	a := reg.FindOrCreate("001010000000001", "Lb-conn")
	b := reg.FindOrCreate("001010000000001", "smlc_loc_req")

	if a != b {
		t.Fatal("FindOrCreate returned distinct entries for the same IMSI")
	}
	if reg.Count() != 1 {
		t.Fatalf("Count = %d, want 1", reg.Count())
	}
}

func TestPutRemovesOnZero(t *testing.T) {
	t.Parallel()

	reg := subscr.NewRegistry(newTestLogger())
	s := reg.FindOrCreate("001010000000002", subscr.UseLbConn)

	if _, ok := reg.Find("001010000000002"); !ok {
		t.Fatal("subscriber missing after FindOrCreate")
	}

	if _, err := s.Put(subscr.UseLbConn); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, ok := reg.Find("001010000000002"); ok {
		t.Fatal("subscriber still present after use count reached zero")
	}
}

func TestFindMissing(t *testing.T) {
	t.Parallel()

	reg := subscr.NewRegistry(newTestLogger())
	if _, ok := reg.Find("no-such-imsi"); ok {
		t.Fatal("Find: expected not found")
	}
}
