package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

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

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	user := flag.String("user", "smoke-user", "user uuid to add")
	name := flag.String("name", "Smoke Tester", "display name of the added user")
	space := flag.String("space", "smoke", "space name")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
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
		if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
			return fmt.Errorf("send %s: %w", typ, err)
		}
		return nil
	}

	if err := send(proto.InboundTypeHello, proto.HelloData{User: "ws_smoke", Protocol: proto.ProtocolVersion}); err != nil {
		return err
	}
	if err := send(proto.InboundTypeWatch, proto.SpaceData{Space: *space}); err != nil {
		return err
	}
	if err := send(proto.InboundTypeAddUser, proto.AddUser{Space: *space, User: &proto.User{UUID: *user, Name: *name}}); err != nil {
		return err
	}

	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		fmt.Printf("Received outbound: type=%s", f.Type)
		if f.Event != "" {
			fmt.Printf(" event=%s", f.Event)
		}
		fmt.Println()

		switch f.Type {
		case proto.OutboundTypeError:
			if f.Error != nil {
				return fmt.Errorf("relay error %s: %s", f.Error.Code, f.Error.Msg)
			}
		case proto.OutboundTypeBatch:
			var batch proto.Batch
			if err := json.Unmarshal(f.Data, &batch); err != nil {
				fmt.Printf("Raw data: %s\n", string(f.Data))
				return fmt.Errorf("unmarshal batch: %w", err)
			}
			for _, m := range batch.Messages {
				if m.AddUser != nil && m.AddUser.User != nil && m.AddUser.User.UUID == *user {
					fmt.Printf("Added: space=%s user=%s name=%q\n", m.AddUser.Space, m.AddUser.User.UUID, m.AddUser.User.Name)
					return send(proto.InboundTypeRemoveUser, proto.RemoveUser{Space: *space, UserUUID: *user})
				}
			}
		default:
			// keep looping for the add
		}
	}
}
