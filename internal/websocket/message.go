package websocket

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
	"github.com/xenn00/room-sync/internal/bridge"
	"github.com/xenn00/room-sync/internal/bridge/wsbridge"
	"github.com/xenn00/room-sync/internal/entity"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func errorFrame(reqID uint64, err error) wsbridge.Frame {
	return wsbridge.Frame{ID: reqID, Error: wsbridge.NewWireError(err)}
}

func resultFrame(reqID uint64, result any) wsbridge.Frame {
	if result == nil {
		return wsbridge.Frame{ID: reqID}
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return errorFrame(reqID, err)
	}
	return wsbridge.Frame{ID: reqID, Result: raw}
}

func decode[T any](raw jsoniter.RawMessage) (T, error) {
	var params T
	if len(raw) == 0 {
		return params, nil
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return params, fmt.Errorf("%w: %v", wsbridge.ErrBadParams, err)
	}
	return params, nil
}

func (c *Client) handle(ctx context.Context, req wsbridge.Request) wsbridge.Frame {
	result, err := c.invoke(ctx, req)
	if err != nil {
		log.Debug().Err(err).Str("method", req.Method).Str("userID", c.UserID.String()).Msg("ws: request failed")
		return errorFrame(req.ID, err)
	}
	return resultFrame(req.ID, result)
}

func (c *Client) invoke(ctx context.Context, req wsbridge.Request) (any, error) {
	switch req.Method {
	case wsbridge.MethodWhoAmI:
		return wsbridge.WhoAmIResult{UserID: c.UserID}, nil

	case wsbridge.MethodSubscribeRoom:
		p, err := decode[wsbridge.SubscribeParams](req.Params)
		if err != nil {
			return nil, err
		}
		sub, err := c.bridge.SubscribeRoom(ctx, p.RoomID)
		if err != nil {
			return nil, err
		}
		forward(c, p.Sub, sub, func(ev entity.Event) wsbridge.Frame {
			return wsbridge.Frame{Sub: p.Sub, Event: &ev}
		})
		return nil, nil

	case wsbridge.MethodSubscribeRooms:
		p, err := decode[wsbridge.SubscribeParams](req.Params)
		if err != nil {
			return nil, err
		}
		sub, err := c.bridge.SubscribeRooms(ctx)
		if err != nil {
			return nil, err
		}
		forward(c, p.Sub, sub, func(room entity.Room) wsbridge.Frame {
			return wsbridge.Frame{Sub: p.Sub, Room: &room}
		})
		return nil, nil

	case wsbridge.MethodUnsubscribe:
		p, err := decode[wsbridge.SubscribeParams](req.Params)
		if err != nil {
			return nil, err
		}
		if closer := c.untrack(p.Sub); closer != nil {
			_ = closer.Close()
		}
		return nil, nil

	case wsbridge.MethodPaginate:
		p, err := decode[wsbridge.PaginateParams](req.Params)
		if err != nil {
			return nil, err
		}
		return c.bridge.Paginate(ctx, p.RoomID, p.Cursor)

	case wsbridge.MethodFetchEvent:
		p, err := decode[wsbridge.EventParams](req.Params)
		if err != nil {
			return nil, err
		}
		return c.bridge.FetchEvent(ctx, p.RoomID, p.EventID)

	case wsbridge.MethodRefetchMembers:
		p, err := decode[wsbridge.RoomParams](req.Params)
		if err != nil {
			return nil, err
		}
		return c.bridge.RefetchMembers(ctx, p.RoomID)

	case wsbridge.MethodSendMessage:
		p, err := decode[wsbridge.SendParams](req.Params)
		if err != nil {
			return nil, err
		}
		content, err := p.Decode()
		if err != nil {
			return nil, err
		}
		return c.bridge.SendMessage(ctx, p.RoomID, content, p.RepliedEventID, p.TxnID)

	case wsbridge.MethodSendDirectMessage:
		p, err := decode[wsbridge.SendParams](req.Params)
		if err != nil {
			return nil, err
		}
		content, err := p.Decode()
		if err != nil {
			return nil, err
		}
		roomID, ev, err := c.bridge.SendDirectMessage(ctx, p.UserID, content, p.RepliedEventID, p.TxnID)
		if err != nil {
			return nil, err
		}
		return wsbridge.SendDirectResult{RoomID: roomID, Event: ev}, nil

	case wsbridge.MethodDeleteMessage:
		p, err := decode[wsbridge.EventParams](req.Params)
		if err != nil {
			return nil, err
		}
		return nil, c.bridge.DeleteMessage(ctx, p.RoomID, p.EventID, p.Reason)

	case wsbridge.MethodEditMessage:
		p, err := decode[wsbridge.EditParams](req.Params)
		if err != nil {
			return nil, err
		}
		return c.bridge.EditMessage(ctx, p.RoomID, p.EventID, p.Body, p.TxnID)

	case wsbridge.MethodSetPowerLevel:
		p, err := decode[wsbridge.MemberParams](req.Params)
		if err != nil {
			return nil, err
		}
		return nil, c.bridge.SetPowerLevel(ctx, p.RoomID, p.UserID, p.Level)

	case wsbridge.MethodInviteUser:
		p, err := decode[wsbridge.MemberParams](req.Params)
		if err != nil {
			return nil, err
		}
		return nil, c.bridge.InviteUser(ctx, p.RoomID, p.UserID)

	case wsbridge.MethodJoinRoom:
		p, err := decode[wsbridge.RoomParams](req.Params)
		if err != nil {
			return nil, err
		}
		return nil, c.bridge.JoinRoom(ctx, p.RoomID)

	default:
		return nil, fmt.Errorf("%w: unknown method %q", wsbridge.ErrBadParams, req.Method)
	}
}

// forward relays a bridge subscription to the socket until either side
// closes it, then tells the peer the stream has ended.
func forward[T any](c *Client, subID string, sub bridge.Subscription[T], frame func(T) wsbridge.Frame) {
	c.track(subID, sub)

	go func() {
		for v := range sub.C() {
			if !c.push(frame(v)) {
				break
			}
		}
		_ = sub.Close()
		c.release(subID, sub)
		c.push(wsbridge.Frame{Sub: subID, End: true})
	}()
}
