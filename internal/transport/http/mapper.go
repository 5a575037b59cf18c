package http

import (
	"encoding/json"

	"github.com/vovakirdan/spacerelay/internal/core"
	"github.com/vovakirdan/spacerelay/internal/proto"
)

func badRequest(msg string) *proto.Error {
	return &proto.Error{Code: core.ErrCodeBadRequest, Msg: msg}
}

func invalidMessage(msg string) *proto.Error {
	return &proto.Error{Code: core.ErrCodeInvalidMessage, Msg: msg}
}

// inboundToCommand maps a watcher frame to a hub command. A non-nil
// *proto.Error is reported to the watcher and the frame is dropped.
func inboundToCommand(inbound proto.Inbound) (*core.Command, *proto.Error) {
	switch inbound.Type {
	case proto.InboundTypeWatch, proto.InboundTypeUnwatch:
		var data proto.SpaceData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, invalidMessage(err.Error())
		}
		if data.Space == "" {
			return nil, badRequest("space is required")
		}
		kind := core.CommandWatchSpace
		if inbound.Type == proto.InboundTypeUnwatch {
			kind = core.CommandUnwatchSpace
		}
		return &core.Command{Kind: kind, Space: data.Space}, nil

	case proto.InboundTypeAddUser:
		var data proto.AddUser
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, invalidMessage(err.Error())
		}
		if data.Space == "" {
			return nil, badRequest("space is required")
		}
		if data.User == nil || data.User.UUID == "" {
			return nil, badRequest(proto.ErrMissingUser.Error())
		}
		return &core.Command{Kind: core.CommandAddUser, Space: data.Space, User: data.User.ToCore()}, nil

	case proto.InboundTypeUpdateUser:
		var data proto.UpdateUser
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, invalidMessage(err.Error())
		}
		if data.Space == "" {
			return nil, badRequest("space is required")
		}
		if data.User == nil || data.User.UUID == "" {
			return nil, badRequest(proto.ErrMissingUser.Error())
		}
		return &core.Command{Kind: core.CommandUpdateUser, Space: data.Space, Partial: data.User.ToCore()}, nil

	case proto.InboundTypeRemoveUser:
		var data proto.RemoveUser
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, invalidMessage(err.Error())
		}
		if data.Space == "" {
			return nil, badRequest("space is required")
		}
		if data.UserUUID == "" {
			return nil, badRequest(proto.ErrMissingUser.Error())
		}
		return &core.Command{Kind: core.CommandRemoveUser, Space: data.Space, UUID: data.UserUUID}, nil

	case proto.InboundTypeAddFilter, proto.InboundTypeUpdateFilter, proto.InboundTypeRemoveFilter:
		var data proto.Filter
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, invalidMessage(err.Error())
		}
		if data.Space == "" || data.Name == "" {
			return nil, badRequest("space and name are required")
		}
		kind := core.CommandAddFilter
		switch inbound.Type {
		case proto.InboundTypeUpdateFilter:
			kind = core.CommandUpdateFilter
		case proto.InboundTypeRemoveFilter:
			kind = core.CommandRemoveFilter
		}
		return &core.Command{Kind: kind, Space: data.Space, Filter: data.ToCore()}, nil

	case proto.InboundTypeHello:
		return nil, badRequest("already greeted")

	default:
		return nil, invalidMessage("unknown message type")
	}
}

// outboundFromEvents turns drained events into frames, oldest first.
// Consecutive space messages share one batch frame; acks and errors are
// written on their own between batches so ordering is kept.
func outboundFromEvents(events []core.Event) []proto.Outbound {
	var (
		out   []proto.Outbound
		batch []proto.SpaceMessage
	)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		out = append(out, proto.Outbound{Type: proto.OutboundTypeBatch, Data: proto.Batch{Messages: batch}})
		batch = nil
	}

	for _, ev := range events {
		switch ev.Kind {
		case core.EventSpaceMessage:
			if ev.Message == nil {
				continue
			}
			batch = append(batch, proto.SpaceMessageFromCore(ev.Message.Message))
		case core.EventWatching:
			flush()
			out = append(out, proto.Outbound{Type: proto.OutboundTypeEvent, Event: proto.EventWatching, Data: proto.EventSpace{Space: ev.Space}})
		case core.EventUnwatched:
			flush()
			out = append(out, proto.Outbound{Type: proto.OutboundTypeEvent, Event: proto.EventUnwatched, Data: proto.EventSpace{Space: ev.Space}})
		case core.EventError:
			flush()
			if ev.Error == nil {
				out = append(out, proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: "unknown", Msg: "unknown error"}})
				continue
			}
			out = append(out, proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: ev.Error.Code, Msg: ev.Error.Message}})
		}
	}
	flush()
	return out
}
