package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/spacerelay/internal/proto"
)

type frame struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

const usage = `commands:
  add <uuid> <name>       add a user
  rename <uuid> <name>    update a user's name
  rm <uuid>               remove a user
  filter <name> <text>    show only users whose name contains text
  unfilter <name>         drop a filter`

func main() {
	if err := run(); err != nil {
		log.Printf("ws_watch: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	user := flag.String("user", "cli-watcher", "watcher name")
	space := flag.String("space", "lobby", "space to watch")
	flag.Parse()

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	send := func(typ string, data any) error {
		payload, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", typ, err)
		}
		return wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload})
	}

	if err := send(proto.InboundTypeHello, proto.HelloData{User: *user, Protocol: proto.ProtocolVersion}); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}
	if err := send(proto.InboundTypeWatch, proto.SpaceData{Space: *space}); err != nil {
		return fmt.Errorf("send watch: %w", err)
	}

	fmt.Printf("Connected to %s as %s watching %s\n", *addr, *user, *space)
	fmt.Println(usage)

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	writeLoop(ctx, *space, send)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			// Treat expected shutdowns quietly.
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		switch f.Type {
		case proto.OutboundTypeBatch:
			var batch proto.Batch
			if err := json.Unmarshal(f.Data, &batch); err != nil {
				log.Printf("unmarshal batch: %v", err)
				continue
			}
			for _, m := range batch.Messages {
				printMessage(m)
			}
		case proto.OutboundTypeError:
			if f.Error != nil {
				fmt.Printf("! %s: %s\n", f.Error.Code, f.Error.Msg)
			}
		default:
			fmt.Printf("event=%s data=%s\n", f.Event, string(f.Data))
		}
	}
}

func printMessage(m proto.SpaceMessage) {
	switch {
	case m.AddUser != nil && m.AddUser.User != nil:
		fmt.Printf("[%s] + %s %q\n", m.AddUser.Space, m.AddUser.User.UUID, m.AddUser.User.Name)
	case m.UpdateUser != nil && m.UpdateUser.User != nil:
		u := m.UpdateUser.User
		if u.Name != nil {
			fmt.Printf("[%s] ~ %s name=%q\n", m.UpdateUser.Space, u.UUID, *u.Name)
		} else {
			fmt.Printf("[%s] ~ %s\n", m.UpdateUser.Space, u.UUID)
		}
	case m.RemoveUser != nil:
		fmt.Printf("[%s] - %s\n", m.RemoveUser.Space, m.RemoveUser.UserUUID)
	}
}

func writeLoop(ctx context.Context, space string, send func(string, any) error) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			fields := strings.Fields(line)
			if len(fields) == 0 {
				continue
			}

			var err error
			switch {
			case fields[0] == "add" && len(fields) >= 3:
				err = send(proto.InboundTypeAddUser, proto.AddUser{Space: space, User: &proto.User{UUID: fields[1], Name: strings.Join(fields[2:], " ")}})
			case fields[0] == "rename" && len(fields) >= 3:
				name := strings.Join(fields[2:], " ")
				err = send(proto.InboundTypeUpdateUser, proto.UpdateUser{Space: space, User: &proto.PartialUser{UUID: fields[1], Name: &name}})
			case fields[0] == "rm" && len(fields) == 2:
				err = send(proto.InboundTypeRemoveUser, proto.RemoveUser{Space: space, UserUUID: fields[1]})
			case fields[0] == "filter" && len(fields) == 3:
				err = send(proto.InboundTypeAddFilter, proto.Filter{Space: space, Name: fields[1], ContainsName: &proto.ContainsName{Value: fields[2]}})
			case fields[0] == "unfilter" && len(fields) == 2:
				err = send(proto.InboundTypeRemoveFilter, proto.Filter{Space: space, Name: fields[1]})
			default:
				fmt.Println(usage)
				continue
			}
			if err != nil {
				log.Printf("send error: %v", err)
				return
			}
		}
	}
}
