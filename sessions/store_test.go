package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/probeops/agentgate/auth"
	"github.com/probeops/agentgate/storage/memory"
)

func TestCreateOrRestoreReturnsExistingSession(t *testing.T) {
	st := NewStore()
	s := st.CreateOrRestore("req-1@[10.0.0.2]")
	s.Set("seen", true)

	again := st.CreateOrRestore("req-1@[10.0.0.2]")
	if again != s {
		t.Fatal("known id returned a different session")
	}
	if got := again.Get("seen"); got != true {
		t.Fatalf("session state lost: %v", got)
	}
}

func TestCreateOrRestoreAllocatesFreshIDs(t *testing.T) {
	st := NewStore()
	a := st.CreateOrRestore("")
	b := st.CreateOrRestore("")
	if a.SID() == "" || a.SID() == b.SID() {
		t.Fatalf("expected distinct generated sids, got %q and %q", a.SID(), b.SID())
	}
}

func TestExpiredSessionTreatedAsUnknown(t *testing.T) {
	st := NewStore(WithTimeout(10 * time.Millisecond))
	s := st.CreateOrRestore("peer")
	nonce := s.Nonce()
	time.Sleep(30 * time.Millisecond)

	if st.Lookup("peer") != nil {
		t.Error("Lookup returned an expired session")
	}
	if st.Authorize("peer", "token", auth.Digest(nonce, "token")) {
		t.Error("expired session authorized")
	}

	replacement := st.CreateOrRestore("peer")
	if replacement == s {
		t.Error("CreateOrRestore returned the expired session")
	}
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	ctx := context.Background()
	st := NewStore(WithTimeout(20 * time.Millisecond))
	st.CreateOrRestore("old")
	time.Sleep(40 * time.Millisecond)
	live := st.CreateOrRestore("live")

	removed := st.Sweep(ctx)
	if removed != 1 {
		t.Fatalf("Sweep removed %d, want 1", removed)
	}
	if st.Lookup("live") != live {
		t.Fatal("live session removed by sweep")
	}
}

func TestSaveAndRestoreThroughStorage(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	defer backend.Close()

	st := NewStore(WithPersistence(backend))
	s := st.CreateOrRestore("peer-a")
	nonce := s.Nonce()
	s.Set("deviceid", "host-77")

	if err := st.Save(ctx); err != nil {
		t.Fatal(err)
	}

	// Simulate a process restart with a fresh store on the same backend.
	st2 := NewStore(WithPersistence(backend))
	if err := st2.Restore(ctx); err != nil {
		t.Fatal(err)
	}
	restored := st2.Lookup("peer-a")
	if restored == nil {
		t.Fatal("session not restored")
	}
	if restored.Nonce() != nonce {
		t.Error("nonce changed across restart")
	}
	if got := restored.Get("deviceid"); got != "host-77" {
		t.Errorf("data entry lost: %v", got)
	}
}

func TestRemoveDeletesPersistedCopy(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	defer backend.Close()

	st := NewStore(WithPersistence(backend))
	st.CreateOrRestore("gone")
	if err := st.Save(ctx); err != nil {
		t.Fatal(err)
	}

	st.Remove(ctx, "gone")
	if st.Lookup("gone") != nil {
		t.Error("session still live after Remove")
	}
	item, err := backend.Get(ctx, "sessions:gone")
	if err != nil {
		t.Fatal(err)
	}
	if item != nil {
		t.Error("persisted copy survived Remove")
	}
}
