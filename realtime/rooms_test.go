package realtime

import "testing"

func TestRooms_IdempotentJoin(t *testing.T) {
	r := NewRooms()
	r.Join("s", "r")
	r.Join("s", "r")

	if got := len(r.Members("r")); got != 1 {
		t.Fatalf("Members() after double join = %d, want 1", got)
	}

	r.Leave("s", "r")
	if r.IsMember("s", "r") {
		t.Error("session still a member after a single Leave()")
	}
	if got := len(r.Members("r")); got != 0 {
		t.Errorf("Members() = %d, want 0", got)
	}
	if _, ok := r.Counts()["r"]; ok {
		t.Error("empty room should not be reported by Counts()")
	}
}

func TestRooms_LeaveNotMember(t *testing.T) {
	r := NewRooms()
	r.Join("s1", "r")
	r.Leave("s2", "r")
	r.Leave("s1", "other")

	if !r.IsMember("s1", "r") {
		t.Error("unrelated Leave() removed s1")
	}
}

func TestRooms_LeaveAll(t *testing.T) {
	r := NewRooms()
	r.Join("s1", "a")
	r.Join("s1", "b")
	r.Join("s2", "b")

	left := r.LeaveAll("s1")
	if len(left) != 2 || left[0] != "a" || left[1] != "b" {
		t.Errorf("LeaveAll() = %v, want [a b]", left)
	}
	if len(r.RoomsOf("s1")) != 0 {
		t.Errorf("RoomsOf(s1) = %v, want none", r.RoomsOf("s1"))
	}

	counts := r.Counts()
	if counts["b"] != 1 {
		t.Errorf("Counts()[b] = %d, want 1", counts["b"])
	}
	if _, ok := counts["a"]; ok {
		t.Error("room a should be gone")
	}

	if left := r.LeaveAll("unknown"); len(left) != 0 {
		t.Errorf("LeaveAll(unknown) = %v, want none", left)
	}
}

func TestRooms_MembersSnapshot(t *testing.T) {
	r := NewRooms()
	r.Join("s2", "r")
	r.Join("s1", "r")

	members := r.Members("r")
	r.Leave("s1", "r")

	if len(members) != 2 || members[0] != "s1" || members[1] != "s2" {
		t.Errorf("Members() = %v, want [s1 s2]", members)
	}
}
