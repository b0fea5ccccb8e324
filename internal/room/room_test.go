package room

import (
	"errors"
	"testing"
	"time"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		ref     Ref
		want    Topic
		wantErr error
	}{
		{"group", 7, Topic{Kind: KindGroup, ID: 7}, nil},
		{"direct", -7, Topic{Kind: KindDirect, ID: 7}, nil},
		{"zero", 0, Topic{}, ErrUndefinedRoom},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.ref)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Resolve(%d) error = %v, want %v", tt.ref, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Resolve(%d) = %v, want %v", tt.ref, got, tt.want)
			}
		})
	}
}

func TestResolve_Sign(t *testing.T) {
	for r := Ref(-50); r <= 50; r++ {
		if r == 0 {
			continue
		}
		topic, err := Resolve(r)
		if err != nil {
			t.Fatalf("Resolve(%d) error = %v", r, err)
		}
		if (topic.Kind == KindGroup) != (r > 0) {
			t.Errorf("Resolve(%d).Kind = %v", r, topic.Kind)
		}
		if topic.Ref() != r {
			t.Errorf("Resolve(%d).Ref() = %d", r, topic.Ref())
		}
	}
}

func TestEncodeDirect_RoundTrip(t *testing.T) {
	for _, id := range []int64{1, 2, 99, 1 << 40} {
		topic, err := Resolve(EncodeDirect(id))
		if err != nil {
			t.Fatalf("Resolve(EncodeDirect(%d)) error = %v", id, err)
		}
		if topic != (Topic{Kind: KindDirect, ID: id}) {
			t.Errorf("Resolve(EncodeDirect(%d)) = %v", id, topic)
		}
	}
}

func TestCanonicalPair(t *testing.T) {
	a, b := CanonicalPair("zoe", "adam")
	if a != "adam" || b != "zoe" {
		t.Errorf("CanonicalPair(zoe, adam) = %s, %s", a, b)
	}
	a2, b2 := CanonicalPair("adam", "zoe")
	if a != a2 || b != b2 {
		t.Errorf("CanonicalPair is order dependent: (%s,%s) vs (%s,%s)", a, b, a2, b2)
	}
}

func TestRole_AtLeast(t *testing.T) {
	tests := []struct {
		role Role
		min  Role
		want bool
	}{
		{RoleMember, RoleAdmin, false},
		{RoleAdmin, RoleAdmin, true},
		{RoleCreator, RoleAdmin, true},
		{RoleAdmin, RoleCreator, false},
		{Role("OWNER"), RoleMember, false},
	}
	for _, tt := range tests {
		if got := tt.role.AtLeast(tt.min); got != tt.want {
			t.Errorf("%s.AtLeast(%s) = %v, want %v", tt.role, tt.min, got, tt.want)
		}
	}
}

func TestParseRole(t *testing.T) {
	for _, s := range []string{"CREATOR", "ADMIN", "MEMBER"} {
		r, err := ParseRole(s)
		if err != nil || string(r) != s {
			t.Errorf("ParseRole(%q) = %q, %v", s, r, err)
		}
	}
	if _, err := ParseRole("admin"); err == nil {
		t.Error("ParseRole(\"admin\") should fail")
	}
}

type fakeMember struct {
	name   string
	role   Role
	joined time.Time
}

func (f fakeMember) MemberRole() Role    { return f.role }
func (f fakeMember) JoinedAt() time.Time { return f.joined }

func TestSortMembers(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	members := []fakeMember{
		{"m1", RoleMember, base.Add(1 * time.Minute)},
		{"a2", RoleAdmin, base.Add(4 * time.Minute)},
		{"m0", RoleMember, base},
		{"c", RoleCreator, base.Add(5 * time.Minute)},
		{"a1", RoleAdmin, base.Add(2 * time.Minute)},
	}
	SortMembers(members)

	want := []string{"c", "a1", "a2", "m0", "m1"}
	for i, m := range members {
		if m.name != want[i] {
			t.Fatalf("SortMembers()[%d] = %s, want %s", i, m.name, want[i])
		}
	}
}
