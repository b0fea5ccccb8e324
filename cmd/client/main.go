package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"relaychat/internal/client"
	"relaychat/internal/eventbus"
	clog "relaychat/internal/log"
	"relaychat/internal/protocol"
	"relaychat/internal/room"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

const usage = `commands:
  /connect                         connect to the server
  /register <user> <pass> <first> <last>
  /login <user> <pass>             /logout
  /public                          list public groups
  /groups                          list my groups
  /create <name> [private]         create a group (undoable)
  /join <room>                     join a group (undoable)
  /leave <room>                    /members <room>
  /promote <room> <user>           /demote <room> <user>
  /rename <room> <name>            /add <room> <user>    /kick <room> <user>
  /dm <user>                       open a direct chat
  /chats                           list direct chats
  /g <room> <text>                 send to a group
  /d <chat> <text>                 send to a direct chat
  /edit <message> <text>           /delete <message>
  /history g|d <id> [limit]
  /search <term>
  /undo                            /done (command history)
  /quit`

func main() {
	serverURL := pflag.String("server", "ws://localhost:8080/ws", "websocket endpoint")
	codecName := pflag.String("codec", protocol.SubprotocolCBOR, "wire codec subprotocol")
	level := pflag.String("log-level", "warn", "log level")
	pflag.Parse()

	clog.InitWriter("dev", *level, os.Stderr)
	codec, ok := protocol.ByName(*codecName)
	if !ok {
		log.Fatal().Str("codec", *codecName).Msg("unknown codec")
	}

	bus := eventbus.New(clog.For("eventbus"))
	mgr := client.NewManager(*serverURL, client.DialOptions{Codec: codec, Logger: log.Logger}, bus)
	defer mgr.Close()
	subscribe(bus)

	s := &shell{mgr: mgr, chat: mgr.ChatService(), cmds: client.NewCommandManager()}
	fmt.Println(usage)
	in := bufio.NewScanner(os.Stdin)
	for fmt.Print("> "); in.Scan(); fmt.Print("> ") {
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			return
		}
		if err := s.run(line); err != nil {
			fmt.Println("error:", client.UserMessage(err))
		}
	}
}

// subscribe 把推送事件打印到终端。
func subscribe(bus *eventbus.Bus) {
	eventbus.Subscribe(bus, func(e client.MessageReceived) error {
		fmt.Printf("\n[%s] %s: %s\n", refLabel(e.Message.RoomRef), e.Message.Sender, e.Message.Content)
		return nil
	})
	eventbus.Subscribe(bus, func(e client.MessageEdited) error {
		fmt.Printf("\n[%s] message %d edited: %s\n", refLabel(e.Message.RoomRef), e.Message.ID, e.Message.Content)
		return nil
	})
	eventbus.Subscribe(bus, func(e client.MessageDeleted) error {
		fmt.Printf("\n[%s] message %d deleted\n", refLabel(e.RoomRef), e.MessageID)
		return nil
	})
	eventbus.Subscribe(bus, func(e client.DirectChatCreated) error {
		fmt.Printf("\ndirect chat %d opened between %s and %s\n", e.Chat.ID, e.Chat.User1, e.Chat.User2)
		return nil
	})
	eventbus.Subscribe(bus, func(e client.GroupChatCreated) error {
		fmt.Printf("\ngroup %d %q created by %s\n", e.Room.ID, e.Room.Name, e.Room.Creator)
		return nil
	})
	eventbus.Subscribe(bus, func(e client.UserJoinedGroup) error {
		fmt.Printf("\n%s joined group %d\n", e.Username, e.RoomID)
		return nil
	})
	eventbus.Subscribe(bus, func(e client.UserLeftGroup) error {
		if e.WasRemoved {
			fmt.Printf("\n%s was removed from group %d by %s\n", e.Username, e.RoomID, e.RemovedBy)
		} else {
			fmt.Printf("\n%s left group %d\n", e.Username, e.RoomID)
		}
		return nil
	})
	eventbus.Subscribe(bus, func(e client.UserPromoted) error {
		fmt.Printf("\n%s promoted %s in group %d\n", e.By, e.Username, e.RoomID)
		return nil
	})
	eventbus.Subscribe(bus, func(e client.UserDemoted) error {
		fmt.Printf("\n%s demoted %s in group %d\n", e.By, e.Username, e.RoomID)
		return nil
	})
	eventbus.Subscribe(bus, func(e client.GroupRenamed) error {
		fmt.Printf("\ngroup %d renamed to %q by %s\n", e.RoomID, e.Name, e.By)
		return nil
	})
	eventbus.Subscribe(bus, func(e client.ConnectionLost) error {
		fmt.Printf("\nconnection lost: %s\n", e.Reason)
		return nil
	})
	eventbus.Subscribe(bus, func(e client.StateChanged) error {
		log.Debug().Stringer("from", e.From).Stringer("to", e.To).Msg("state")
		return nil
	})
}

func refLabel(ref room.Ref) string {
	t, err := room.Resolve(ref)
	if err != nil {
		return strconv.FormatInt(int64(ref), 10)
	}
	return t.String()
}

type shell struct {
	mgr  *client.Manager
	chat *client.ChatService
	cmds *client.CommandManager
}

func wait[T any](c *client.Call[T]) (T, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	return c.Wait(ctx)
}

func id(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return n, nil
}

func (s *shell) run(line string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	need := func(n int) error {
		if len(args) < n {
			return fmt.Errorf("%s needs %d argument(s), see usage", cmd, n)
		}
		return nil
	}
	rest := func(from int) string { return strings.Join(args[from:], " ") }

	switch cmd {
	case "/connect":
		return s.mgr.Connect(ctx)
	case "/register":
		if err := need(4); err != nil {
			return err
		}
		u, err := s.mgr.CreateAccount(ctx, protocol.CreateAccountParams{Username: args[0], Password: args[1], FirstName: args[2], LastName: args[3]})
		if err == nil {
			fmt.Printf("account %s created\n", u.Username)
		}
		return err
	case "/login":
		if err := need(2); err != nil {
			return err
		}
		u, err := s.mgr.Login(ctx, args[0], args[1])
		if err == nil {
			fmt.Printf("welcome, %s %s\n", u.FirstName, u.LastName)
		}
		return err
	case "/logout":
		s.cmds.Clear()
		return s.mgr.Logout(ctx)
	case "/public", "/groups":
		c := s.chat.PublicGroups()
		if cmd == "/groups" {
			c = s.chat.MyGroups()
		}
		rooms, err := wait(c)
		for _, r := range rooms {
			fmt.Printf("  %d  %s  (%d members, creator %s)\n", r.ID, r.Name, len(r.Members), r.Creator)
		}
		return err
	case "/create":
		if err := need(1); err != nil {
			return err
		}
		private := len(args) > 1 && args[1] == "private"
		c := client.NewCreateGroupCommand(s.chat, args[0], "", private, 0)
		if err := s.cmds.Execute(ctx, c); err != nil {
			return err
		}
		fmt.Printf("group %d created\n", c.Room().ID)
		return nil
	case "/join":
		if err := need(1); err != nil {
			return err
		}
		rid, err := id(args[0])
		if err != nil {
			return err
		}
		return s.cmds.Execute(ctx, client.NewJoinGroupCommand(s.chat, rid))
	case "/leave", "/members":
		if err := need(1); err != nil {
			return err
		}
		rid, err := id(args[0])
		if err != nil {
			return err
		}
		if cmd == "/leave" {
			_, err = wait(s.chat.LeaveGroup(rid))
			return err
		}
		members, err := wait(s.chat.Members(rid))
		for _, m := range members {
			fmt.Printf("  %-20s %s\n", m.Username, m.Role)
		}
		return err
	case "/promote", "/demote", "/add", "/kick", "/rename":
		if err := need(2); err != nil {
			return err
		}
		rid, err := id(args[0])
		if err != nil {
			return err
		}
		var c *client.Call[client.Done]
		switch cmd {
		case "/promote":
			c = s.chat.Promote(rid, args[1])
		case "/demote":
			c = s.chat.Demote(rid, args[1])
		case "/add":
			c = s.chat.AddMember(rid, args[1])
		case "/kick":
			c = s.chat.RemoveMember(rid, args[1])
		default:
			c = s.chat.Rename(rid, rest(1))
		}
		_, err = wait(c)
		return err
	case "/dm":
		if err := need(1); err != nil {
			return err
		}
		d, err := wait(s.chat.CreateDirectChat(args[0]))
		if err == nil {
			fmt.Printf("direct chat %d with %s\n", d.ID, args[0])
		}
		return err
	case "/chats":
		chats, err := wait(s.chat.DirectChats())
		for _, d := range chats {
			fmt.Printf("  %d  %s <-> %s\n", d.ID, d.User1, d.User2)
		}
		return err
	case "/g", "/d":
		if err := need(2); err != nil {
			return err
		}
		n, err := id(args[0])
		if err != nil {
			return err
		}
		ref := room.GroupRef(n)
		if cmd == "/d" {
			ref = room.EncodeDirect(n)
		}
		return s.cmds.Execute(ctx, client.NewSendMessageCommand(s.chat, ref, rest(1)))
	case "/edit":
		if err := need(2); err != nil {
			return err
		}
		mid, err := id(args[0])
		if err != nil {
			return err
		}
		_, err = wait(s.chat.EditMessage(mid, rest(1)))
		return err
	case "/delete":
		if err := need(1); err != nil {
			return err
		}
		mid, err := id(args[0])
		if err != nil {
			return err
		}
		_, err = wait(s.chat.DeleteMessage(mid))
		return err
	case "/history":
		if err := need(2); err != nil {
			return err
		}
		n, err := id(args[1])
		if err != nil {
			return err
		}
		limit := 0
		if len(args) > 2 {
			limit, _ = strconv.Atoi(args[2])
		}
		c := s.chat.GroupHistory(n, limit)
		if args[0] == "d" {
			c = s.chat.DirectHistory(n, limit)
		}
		msgs, err := wait(c)
		for _, m := range msgs {
			content := m.Content
			if m.Deleted {
				content = "(deleted)"
			}
			fmt.Printf("  #%d %s %s: %s\n", m.ID, m.Timestamp.Local().Format(time.Kitchen), m.Sender, content)
		}
		return err
	case "/search":
		if err := need(1); err != nil {
			return err
		}
		users, err := wait(s.chat.SearchUsers(rest(0), 20))
		for _, u := range users {
			fmt.Printf("  %s (%s %s)\n", u.Username, u.FirstName, u.LastName)
		}
		return err
	case "/undo":
		c, err := s.cmds.Undo(ctx)
		if err == nil {
			fmt.Println("undone:", c.Description())
		}
		return err
	case "/done":
		for _, d := range s.cmds.History() {
			fmt.Println(" ", d)
		}
		return nil
	default:
		fmt.Println(usage)
		return nil
	}
}
