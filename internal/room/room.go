// Package room 定义房间寻址约定：正数引用指向群聊，负数引用指向私聊。
package room

import (
	"errors"
	"fmt"
)

// ErrUndefinedRoom 表示引用为 0，既不是群聊也不是私聊。
var ErrUndefinedRoom = errors.New("undefined room reference")

// Kind 区分两种聊天拓扑。
type Kind int

const (
	KindGroup Kind = iota + 1
	KindDirect
)

func (k Kind) String() string {
	switch k {
	case KindGroup:
		return "group"
	case KindDirect:
		return "direct"
	default:
		return "unknown"
	}
}

// Ref 是消息上的有符号房间引用。
type Ref int64

// Topic 是 Ref 解析后的结果。
type Topic struct {
	Kind Kind
	ID   int64
}

// Resolve 把引用解析为群聊或私聊；0 立即失败。
func Resolve(ref Ref) (Topic, error) {
	switch {
	case ref > 0:
		return Topic{Kind: KindGroup, ID: int64(ref)}, nil
	case ref < 0:
		return Topic{Kind: KindDirect, ID: -int64(ref)}, nil
	default:
		return Topic{}, ErrUndefinedRoom
	}
}

// EncodeDirect 返回私聊 id 对应的引用。
func EncodeDirect(directChatID int64) Ref { return Ref(-directChatID) }

// GroupRef 返回群聊 id 对应的引用。
func GroupRef(groupID int64) Ref { return Ref(groupID) }

// Ref 是 Resolve 的逆运算。
func (t Topic) Ref() Ref {
	if t.Kind == KindDirect {
		return EncodeDirect(t.ID)
	}
	return GroupRef(t.ID)
}

func (t Topic) String() string { return fmt.Sprintf("%s(%d)", t.Kind, t.ID) }

func (r Ref) IsDirect() bool { return r < 0 }

func (r Ref) IsGroup() bool { return r > 0 }

// CanonicalPair 按字典序返回两个用户名，保证每个无序对只有一行私聊。
func CanonicalPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}
