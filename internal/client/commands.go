package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"relaychat/internal/protocol"
	"relaychat/internal/room"
)

const maxCommandHistory = 50

// Command 是可记录、可撤销的用户操作。
type Command interface {
	Execute(ctx context.Context) error
	Undo(ctx context.Context) error
	CanUndo() bool
	Description() string
}

// CommandManager 串行执行命令并保留可撤销的历史，最多 maxCommandHistory 条。
type CommandManager struct {
	mu      sync.Mutex
	history []Command
}

func NewCommandManager() *CommandManager { return &CommandManager{} }

// Execute 执行命令，成功且可撤销时记入历史。
func (m *CommandManager) Execute(ctx context.Context, cmd Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := cmd.Execute(ctx); err != nil {
		return err
	}
	if cmd.CanUndo() {
		m.history = append(m.history, cmd)
		if len(m.history) > maxCommandHistory {
			m.history = m.history[len(m.history)-maxCommandHistory:]
		}
	}
	return nil
}

// Undo 撤销最近一条命令；撤销失败时命令放回历史。
func (m *CommandManager) Undo(ctx context.Context) (Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return nil, ErrNothingToUndo
	}
	last := len(m.history) - 1
	cmd := m.history[last]
	m.history = m.history[:last]
	if err := cmd.Undo(ctx); err != nil {
		m.history = append(m.history, cmd)
		return cmd, fmt.Errorf("undo %q: %w", cmd.Description(), err)
	}
	return cmd, nil
}

func (m *CommandManager) CanUndo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.history) > 0
}

// History 返回历史描述，最早的在前。
func (m *CommandManager) History() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.history))
	for _, c := range m.history {
		out = append(out, c.Description())
	}
	return out
}

func (m *CommandManager) Clear() {
	m.mu.Lock()
	m.history = nil
	m.mu.Unlock()
}

var errNotExecuted = errors.New("command has not been executed")

// JoinGroupCommand 加入群聊，撤销时退出。
type JoinGroupCommand struct {
	svc    *ChatService
	roomID int64
	joined bool
}

func NewJoinGroupCommand(svc *ChatService, roomID int64) *JoinGroupCommand {
	return &JoinGroupCommand{svc: svc, roomID: roomID}
}

func (c *JoinGroupCommand) Execute(ctx context.Context) error {
	if _, err := c.svc.JoinGroup(c.roomID).Wait(ctx); err != nil {
		return err
	}
	c.joined = true
	return nil
}

func (c *JoinGroupCommand) Undo(ctx context.Context) error {
	if !c.joined {
		return errNotExecuted
	}
	if _, err := c.svc.LeaveGroup(c.roomID).Wait(ctx); err != nil {
		return err
	}
	c.joined = false
	return nil
}

func (c *JoinGroupCommand) CanUndo() bool { return c.joined }

func (c *JoinGroupCommand) Description() string {
	return fmt.Sprintf("Join group %d", c.roomID)
}

// CreateGroupCommand 创建群聊，撤销时创建者退出该群。
type CreateGroupCommand struct {
	svc         *ChatService
	name        string
	description string
	private     bool
	maxMembers  int

	created *protocol.RoomDTO
}

func NewCreateGroupCommand(svc *ChatService, name, description string, private bool, maxMembers int) *CreateGroupCommand {
	return &CreateGroupCommand{svc: svc, name: name, description: description, private: private, maxMembers: maxMembers}
}

func (c *CreateGroupCommand) Execute(ctx context.Context) error {
	r, err := c.svc.CreateGroup(c.name, c.description, c.private, c.maxMembers).Wait(ctx)
	if err != nil {
		return err
	}
	c.created = &r
	return nil
}

func (c *CreateGroupCommand) Undo(ctx context.Context) error {
	if c.created == nil {
		return errNotExecuted
	}
	if _, err := c.svc.LeaveGroup(c.created.ID).Wait(ctx); err != nil {
		return err
	}
	c.created = nil
	return nil
}

func (c *CreateGroupCommand) CanUndo() bool { return c.created != nil }

// Room 返回创建出的群聊，未执行或已撤销时为 nil。
func (c *CreateGroupCommand) Room() *protocol.RoomDTO { return c.created }

func (c *CreateGroupCommand) Description() string {
	return "Create group: " + c.name
}

// SendMessageCommand 发送消息，不可撤销。
type SendMessageCommand struct {
	svc     *ChatService
	ref     room.Ref
	content string

	sent *protocol.MessageDTO
}

func NewSendMessageCommand(svc *ChatService, ref room.Ref, content string) *SendMessageCommand {
	return &SendMessageCommand{svc: svc, ref: ref, content: content}
}

func (c *SendMessageCommand) Execute(ctx context.Context) error {
	m, err := c.svc.Send(c.ref, c.content).Wait(ctx)
	if err != nil {
		return err
	}
	c.sent = &m
	return nil
}

func (c *SendMessageCommand) Undo(context.Context) error {
	return errors.New("sent messages cannot be undone")
}

func (c *SendMessageCommand) CanUndo() bool { return false }

func (c *SendMessageCommand) Message() *protocol.MessageDTO { return c.sent }

func (c *SendMessageCommand) Description() string {
	kind := "group"
	if c.ref.IsDirect() {
		kind = "direct"
	}
	preview := c.content
	if r := []rune(preview); len(r) > 50 {
		preview = string(r[:50]) + "..."
	}
	return fmt.Sprintf("Send %s message: %s", kind, preview)
}
