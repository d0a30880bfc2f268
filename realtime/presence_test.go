package realtime

import (
	"fmt"
	"sync"
	"testing"
)

func TestPresence_LastRegisterWins(t *testing.T) {
	p := NewPresence()

	p.Register("u1", "s1")
	p.Register("u1", "s2")
	p.Register("u1", "s3")

	sid, ok := p.Lookup("u1")
	if !ok {
		t.Fatal("Lookup() did not find registered user")
	}
	if sid != "s3" {
		t.Errorf("Lookup() = %q, want %q", sid, "s3")
	}
	if p.Len() != 1 {
		t.Errorf("Len() = %d, want 1", p.Len())
	}
}

func TestPresence_SnapshotCompleteness(t *testing.T) {
	p := NewPresence()
	p.Register("A", "sa")
	p.Register("B", "sb")
	p.Register("C", "sc")
	p.Unregister("B")

	got := p.LiveUserIDs()
	want := []string{"A", "C"}
	if len(got) != len(want) {
		t.Fatalf("LiveUserIDs() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("LiveUserIDs()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPresence_UnregisterCleansUp(t *testing.T) {
	p := NewPresence()
	p.Register("u1", "s1")
	p.Unregister("u1")

	if _, ok := p.Lookup("u1"); ok {
		t.Error("Lookup() found user after Unregister()")
	}
	for _, id := range p.LiveUserIDs() {
		if id == "u1" {
			t.Error("LiveUserIDs() still contains u1")
		}
	}
}

func TestPresence_UnregisterUnknownIsNoop(t *testing.T) {
	p := NewPresence()
	p.Register("u1", "s1")
	p.Unregister("ghost")

	if p.Len() != 1 {
		t.Errorf("Len() = %d, want 1", p.Len())
	}
}

func TestPresence_LookupMissing(t *testing.T) {
	p := NewPresence()
	sid, ok := p.Lookup("nonexistent-user")
	if ok || sid != "" {
		t.Errorf("Lookup() = (%q, %v), want (\"\", false)", sid, ok)
	}
	if p.Len() != 0 {
		t.Error("Lookup() must not mutate state")
	}
}

func TestPresence_Concurrency(t *testing.T) {
	p := NewPresence()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", i%10)
			p.Register(user, SessionID(fmt.Sprintf("s-%d", i)))
			p.Lookup(user)
			p.LiveUserIDs()
		}(i)
	}
	wg.Wait()

	if p.Len() != 10 {
		t.Errorf("Len() = %d, want 10", p.Len())
	}
}
