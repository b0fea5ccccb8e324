package room

import (
	"fmt"
	"sort"
	"time"
)

// Role 是成员在群聊中的角色，权限偏序为 MEMBER < ADMIN < CREATOR。
type Role string

const (
	RoleMember  Role = "MEMBER"
	RoleAdmin   Role = "ADMIN"
	RoleCreator Role = "CREATOR"
)

// SystemActor 用于自助加入等没有邀请人的场景。
const SystemActor = "system"

func (r Role) Rank() int {
	switch r {
	case RoleMember:
		return 1
	case RoleAdmin:
		return 2
	case RoleCreator:
		return 3
	default:
		return 0
	}
}

func (r Role) Valid() bool { return r.Rank() > 0 }

// AtLeast 判断 r 的权限是否不低于 min。
func (r Role) AtLeast(min Role) bool { return r.Valid() && r.Rank() >= min.Rank() }

func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Ranked 是可排序的成员视图。
type Ranked interface {
	MemberRole() Role
	JoinedAt() time.Time
}

// SortMembers 先 CREATOR、再 ADMIN、最后 MEMBER，同级按加入时间升序。
func SortMembers[T Ranked](members []T) {
	sort.SliceStable(members, func(i, j int) bool {
		ri, rj := members[i].MemberRole().Rank(), members[j].MemberRole().Rank()
		if ri != rj {
			return ri > rj
		}
		return members[i].JoinedAt().Before(members[j].JoinedAt())
	})
}
