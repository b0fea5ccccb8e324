package ws

import (
	"context"

	"relaychat/internal/protocol"
)

type method struct {
	// public 的方法不需要已认证的会话。
	public bool
	fn     func(ctx context.Context, c *Conn, payload []byte) (any, error)
}

// handle 把带类型参数的处理函数包装为按协商编码解码参数的方法。
func handle[P any](public bool, fn func(ctx context.Context, c *Conn, p P) (any, error)) method {
	return method{public: public, fn: func(ctx context.Context, c *Conn, payload []byte) (any, error) {
		var p P
		if err := c.codec.Unmarshal(payload, &p); err != nil {
			return nil, &protocol.Error{Code: protocol.CodeInvalidArgument, Message: "malformed params"}
		}
		return fn(ctx, c, p)
	}}
}

type noParams struct{}

var methods = map[string]method{
	protocol.MethodLogin: handle(true, func(ctx context.Context, c *Conn, p protocol.LoginParams) (any, error) {
		res, err := c.svc.Login(ctx, p.Username, p.Password)
		if err != nil {
			return nil, err
		}
		if prev := c.Username(); prev != "" && prev != res.User.Username {
			c.svc.ReleaseClient(prev, c)
		}
		c.setUser(res.User.Username)
		c.log.Info().Str("username", res.User.Username).Msg("session authenticated")
		return res, nil
	}),
	protocol.MethodCreateAccount: handle(true, func(ctx context.Context, c *Conn, p protocol.CreateAccountParams) (any, error) {
		return c.svc.CreateAccount(ctx, p)
	}),
	protocol.MethodUsernameExists: handle(true, func(ctx context.Context, c *Conn, p protocol.UsernameParams) (any, error) {
		exists, err := c.svc.UsernameExists(ctx, p.Username)
		return protocol.ExistsResult{Exists: exists}, err
	}),
	protocol.MethodLogout: handle(false, func(ctx context.Context, c *Conn, p protocol.UsernameParams) (any, error) {
		if err := c.actor(p.Username); err != nil {
			return nil, err
		}
		c.svc.Logout(ctx, p.Username, c)
		c.setUser("")
		return nil, nil
	}),
	protocol.MethodSearchUsers: handle(false, func(ctx context.Context, c *Conn, p protocol.SearchParams) (any, error) {
		return c.svc.SearchUsers(ctx, p.Term, p.Limit)
	}),

	protocol.MethodCreateDirectChat: handle(false, func(ctx context.Context, c *Conn, p protocol.PairParams) (any, error) {
		if err := c.actor(p.User1); err != nil {
			return nil, err
		}
		return c.svc.CreateDirectChat(ctx, p.User1, p.User2)
	}),
	protocol.MethodGetDirectChat: handle(false, func(ctx context.Context, c *Conn, p protocol.PairParams) (any, error) {
		me := c.Username()
		switch me {
		case p.User1:
			return c.svc.GetDirectChat(ctx, p.User1, p.User2)
		case p.User2:
			return c.svc.GetDirectChat(ctx, p.User2, p.User1)
		default:
			return nil, errActorMismatch
		}
	}),
	protocol.MethodGetUserDirectChats: handle(false, func(ctx context.Context, c *Conn, p protocol.UsernameParams) (any, error) {
		if err := c.actor(p.Username); err != nil {
			return nil, err
		}
		return c.svc.GetUserDirectChats(ctx, p.Username)
	}),
	protocol.MethodUpdateDirectChatSettings: handle(false, func(ctx context.Context, c *Conn, p protocol.DirectChatSettingsParams) (any, error) {
		if err := c.actor(p.Username); err != nil {
			return nil, err
		}
		return c.svc.UpdateDirectChatSettings(ctx, p)
	}),

	protocol.MethodCreateGroupChat: handle(false, func(ctx context.Context, c *Conn, p protocol.CreateGroupParams) (any, error) {
		if err := c.actor(p.Creator); err != nil {
			return nil, err
		}
		return c.svc.CreateGroupChat(ctx, p)
	}),
	protocol.MethodGetGroupChat: handle(false, func(ctx context.Context, c *Conn, p protocol.RoomParams) (any, error) {
		return c.svc.GetGroupChat(ctx, p.RoomID)
	}),
	// 公开群聊列表在登录前也可浏览。
	protocol.MethodGetPublicGroupChats: handle(true, func(ctx context.Context, c *Conn, _ noParams) (any, error) {
		return c.svc.GetPublicGroupChats(ctx)
	}),
	protocol.MethodGetUserGroupChats: handle(false, func(ctx context.Context, c *Conn, p protocol.UsernameParams) (any, error) {
		if err := c.actor(p.Username); err != nil {
			return nil, err
		}
		return c.svc.GetUserGroupChats(ctx, p.Username)
	}),
	protocol.MethodJoinGroupChat: handle(false, func(ctx context.Context, c *Conn, p protocol.MembershipParams) (any, error) {
		if err := c.actor(p.Username); err != nil {
			return nil, err
		}
		return nil, c.svc.JoinGroupChat(ctx, p.Username, p.RoomID)
	}),
	protocol.MethodLeaveGroupChat: handle(false, func(ctx context.Context, c *Conn, p protocol.MembershipParams) (any, error) {
		if err := c.actor(p.Username); err != nil {
			return nil, err
		}
		return nil, c.svc.LeaveGroupChat(ctx, p.Username, p.RoomID)
	}),
	protocol.MethodGetGroupChatMembers: handle(false, func(ctx context.Context, c *Conn, p protocol.RoomParams) (any, error) {
		return c.svc.GetGroupChatMembers(ctx, p.RoomID)
	}),
	protocol.MethodPromoteToAdmin: handle(false, func(ctx context.Context, c *Conn, p protocol.RoleChangeParams) (any, error) {
		if err := c.actor(p.By); err != nil {
			return nil, err
		}
		return nil, c.svc.PromoteToAdmin(ctx, p.By, p.Target, p.RoomID)
	}),
	protocol.MethodDemoteFromAdmin: handle(false, func(ctx context.Context, c *Conn, p protocol.RoleChangeParams) (any, error) {
		if err := c.actor(p.By); err != nil {
			return nil, err
		}
		return nil, c.svc.DemoteFromAdmin(ctx, p.By, p.Target, p.RoomID)
	}),
	protocol.MethodUpdateGroupName: handle(false, func(ctx context.Context, c *Conn, p protocol.RenameParams) (any, error) {
		if err := c.actor(p.By); err != nil {
			return nil, err
		}
		return nil, c.svc.UpdateGroupName(ctx, p.By, p.RoomID, p.Name)
	}),
	protocol.MethodAddUserToGroup: handle(false, func(ctx context.Context, c *Conn, p protocol.MemberChangeParams) (any, error) {
		if err := c.actor(p.By); err != nil {
			return nil, err
		}
		return nil, c.svc.AddUserToGroup(ctx, p.By, p.RoomID, p.Username)
	}),
	protocol.MethodRemoveUserFromGroup: handle(false, func(ctx context.Context, c *Conn, p protocol.MemberChangeParams) (any, error) {
		if err := c.actor(p.By); err != nil {
			return nil, err
		}
		return nil, c.svc.RemoveUserFromGroup(ctx, p.By, p.RoomID, p.Username)
	}),

	protocol.MethodSendMessage: handle(false, func(ctx context.Context, c *Conn, p protocol.SendMessageParams) (any, error) {
		if err := c.actor(p.Sender); err != nil {
			return nil, err
		}
		return c.svc.SendMessage(ctx, p)
	}),
	protocol.MethodEditMessage: handle(false, func(ctx context.Context, c *Conn, p protocol.EditMessageParams) (any, error) {
		if err := c.actor(p.Editor); err != nil {
			return nil, err
		}
		return c.svc.EditMessage(ctx, p.MessageID, p.Content, p.Editor)
	}),
	protocol.MethodDeleteMessage: handle(false, func(ctx context.Context, c *Conn, p protocol.DeleteMessageParams) (any, error) {
		if err := c.actor(p.Deleter); err != nil {
			return nil, err
		}
		return nil, c.svc.DeleteMessage(ctx, p.MessageID, p.Deleter)
	}),
	protocol.MethodGetGroupChatMessages: handle(false, func(ctx context.Context, c *Conn, p protocol.HistoryParams) (any, error) {
		if err := c.actor(p.Username); err != nil {
			return nil, err
		}
		return c.svc.GetGroupChatMessages(ctx, p.Username, p.ID, p.Limit)
	}),
	protocol.MethodGetDirectChatMessages: handle(false, func(ctx context.Context, c *Conn, p protocol.HistoryParams) (any, error) {
		if err := c.actor(p.Username); err != nil {
			return nil, err
		}
		return c.svc.GetDirectChatMessages(ctx, p.Username, p.ID, p.Limit)
	}),
	protocol.MethodGetMessagesAfter: handle(false, func(ctx context.Context, c *Conn, p protocol.MessagesAfterParams) (any, error) {
		if err := c.actor(p.Username); err != nil {
			return nil, err
		}
		return c.svc.GetMessagesAfter(ctx, p.Username, p.RoomRef, p.After)
	}),

	protocol.MethodRegisterClient: handle(false, func(ctx context.Context, c *Conn, p protocol.UsernameParams) (any, error) {
		if err := c.actor(p.Username); err != nil {
			return nil, err
		}
		if err := c.svc.RegisterClient(ctx, p.Username, c); err != nil {
			return nil, err
		}
		c.log.Info().Str("username", p.Username).Msg("client registered")
		return nil, nil
	}),
	// unregisterClient 只移除本连接登记的句柄，不影响同一用户的其他会话。
	protocol.MethodUnregisterClient: handle(false, func(_ context.Context, c *Conn, p protocol.UsernameParams) (any, error) {
		if err := c.actor(p.Username); err != nil {
			return nil, err
		}
		c.svc.ReleaseClient(p.Username, c)
		return nil, nil
	}),
}
