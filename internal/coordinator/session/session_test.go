package session

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/benfoxall/cast/internal/store"
)

func newMachine(t *testing.T, s store.Store) *Machine {
	t.Helper()
	logger := zerolog.Nop()
	m := NewMachine("s1", s, &logger)
	if err := m.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestInitIdempotent(t *testing.T) {
	ctx := context.Background()
	m := newMachine(t, store.NewMemory())

	first, err := m.Init(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if first.CasterToken == "" {
		t.Fatal("no caster token generated")
	}
	if first.SessionID != "s1" {
		t.Fatalf("session id = %q, want s1", first.SessionID)
	}

	second, err := m.Init(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if second.CasterToken != first.CasterToken {
		t.Fatalf("token changed across init calls: %q vs %q", second.CasterToken, first.CasterToken)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatal("createdAt changed across init calls")
	}
}

func TestLinkRequiresInit(t *testing.T) {
	ctx := context.Background()
	m := newMachine(t, store.NewMemory())

	if err := m.LinkSFU(ctx, "sfu1"); err != ErrNotInitialized {
		t.Fatalf("got %v, want ErrNotInitialized", err)
	}

	if _, err := m.Init(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.LinkSFU(ctx, "sfu1"); err != nil {
		t.Fatal(err)
	}
	if !m.Linked() || m.CallsSessionID() != "sfu1" {
		t.Fatalf("link not recorded: %q", m.CallsSessionID())
	}

	// Current behavior: re-linking overwrites.
	if err := m.LinkSFU(ctx, "sfu2"); err != nil {
		t.Fatal(err)
	}
	if m.CallsSessionID() != "sfu2" {
		t.Fatalf("relink not recorded: %q", m.CallsSessionID())
	}
}

func TestTrackSet(t *testing.T) {
	ctx := context.Background()
	m := newMachine(t, store.NewMemory())
	if _, err := m.Init(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.LinkSFU(ctx, "sfu1"); err != nil {
		t.Fatal(err)
	}

	t.Run("add is idempotent", func(t *testing.T) {
		added, err := m.AddTrack(ctx, "t1")
		if err != nil || !added {
			t.Fatalf("added=%v err=%v", added, err)
		}
		added, err = m.AddTrack(ctx, "t1")
		if err != nil || added {
			t.Fatalf("duplicate add reported added=%v err=%v", added, err)
		}
		if names := m.TrackNames(); len(names) != 1 || names[0] != "t1" {
			t.Fatalf("track names = %v, want [t1]", names)
		}
	})

	t.Run("remove absent is a no-op", func(t *testing.T) {
		removed, err := m.RemoveTrack(ctx, "absent")
		if err != nil || removed {
			t.Fatalf("removed=%v err=%v", removed, err)
		}
	})

	t.Run("insertion order kept", func(t *testing.T) {
		if _, err := m.AddTrack(ctx, "t2"); err != nil {
			t.Fatal(err)
		}
		if _, err := m.AddTrack(ctx, "t3"); err != nil {
			t.Fatal(err)
		}
		if _, err := m.RemoveTrack(ctx, "t2"); err != nil {
			t.Fatal(err)
		}
		names := m.TrackNames()
		if len(names) != 2 || names[0] != "t1" || names[1] != "t3" {
			t.Fatalf("track names = %v, want [t1 t3]", names)
		}
	})
}

func TestAuthorize(t *testing.T) {
	ctx := context.Background()
	m := newMachine(t, store.NewMemory())

	if m.Authorize("anything") {
		t.Fatal("uninitialized session authorized a token")
	}

	rec, err := m.Init(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !m.Authorize(rec.CasterToken) {
		t.Fatal("valid token rejected")
	}
	if m.Authorize("wrong") || m.Authorize("") {
		t.Fatal("invalid token accepted")
	}
}

func TestDurabilityAcrossRestart(t *testing.T) {
	ctx := context.Background()
	backing := store.NewMemory()

	m := newMachine(t, backing)
	rec, err := m.Init(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.LinkSFU(ctx, "sfu1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.AddTrack(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.AddTrack(ctx, "t2"); err != nil {
		t.Fatal(err)
	}

	// A new machine over the same store stands in for a restarted process.
	restarted := newMachine(t, backing)
	got := restarted.Snapshot()
	if got.SessionID != rec.SessionID {
		t.Fatalf("session id = %q, want %q", got.SessionID, rec.SessionID)
	}
	if got.CasterToken != rec.CasterToken {
		t.Fatal("caster token not restored")
	}
	if got.CallsSessionID != "sfu1" {
		t.Fatalf("calls session id = %q, want sfu1", got.CallsSessionID)
	}
	if len(got.TrackNames) != 2 || got.TrackNames[0] != "t1" || got.TrackNames[1] != "t2" {
		t.Fatalf("track names = %v, want [t1 t2]", got.TrackNames)
	}
}
