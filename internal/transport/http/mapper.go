package http

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/vovakirdan/msgroom-server/internal/core"
	"github.com/vovakirdan/msgroom-server/internal/proto"
)

var errUnknownType = errors.New("unknown event type")

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, errors.New("missing data")
	}
	err := json.Unmarshal(raw, &v)
	return v, err
}

// inboundToCommand maps a client frame to a hub command.
func inboundToCommand(env proto.Envelope) (*core.Command, error) {
	switch env.Type {
	case proto.InboundTypeAuth:
		d, err := decode[proto.AuthData](env.Data)
		if err != nil {
			return nil, err
		}
		return &core.Command{Kind: core.CommandAuth, Auth: &core.AuthRequest{
			User:            d.User,
			LoginKey:        d.LoginKey,
			Channel:         d.Channel,
			ChannelPassword: d.ChannelPassword,
			DisconnectAll:   d.DisconnectAll,
			StaffKey:        d.StaffKey,
			Bot:             d.Bot,
		}}, nil
	case proto.InboundTypeMessage:
		d, err := decode[proto.MessageData](env.Data)
		if err != nil {
			return nil, err
		}
		return &core.Command{Kind: core.CommandSendMessage, Content: d.Content}, nil
	case proto.InboundTypeChangeUser:
		d, err := decode[proto.ChangeUserData](env.Data)
		if err != nil {
			return nil, err
		}
		return &core.Command{Kind: core.CommandChangeName, Name: d.Name}, nil
	case proto.InboundTypeAdminAction:
		d, err := decode[proto.AdminActionData](env.Data)
		if err != nil {
			return nil, err
		}
		return &core.Command{Kind: core.CommandAdminAction, Args: d.Args}, nil
	case proto.InboundTypeSwitchChannel:
		d, err := decode[proto.SwitchChannelData](env.Data)
		if err != nil {
			return nil, err
		}
		return &core.Command{Kind: core.CommandSwitchChannel, Channel: d.Channel, Password: d.Password}, nil
	case proto.InboundTypeBlockUser, proto.InboundTypeUnblockUser:
		d, err := decode[proto.BlockUserData](env.Data)
		if err != nil {
			return nil, err
		}
		kind := core.CommandBlockUser
		if env.Type == proto.InboundTypeUnblockUser {
			kind = core.CommandUnblockUser
		}
		return &core.Command{Kind: kind, Target: d.User}, nil
	default:
		return nil, errUnknownType
	}
}

func userFromInfo(u core.UserInfo) proto.User {
	flags := u.Flags
	if flags == nil {
		flags = []string{}
	}
	return proto.User{
		User:      u.User,
		Color:     u.Color,
		ID:        u.ID,
		SessionID: u.SessionID,
		Flags:     flags,
		Channel:   u.Channel,
	}
}

func messageFromCore(m *core.Message) proto.Message {
	flags := m.Flags
	if flags == nil {
		flags = []string{}
	}
	return proto.Message{
		Type:      m.Type,
		Content:   m.Content,
		User:      m.User,
		Color:     m.Color,
		ID:        m.ID,
		SessionID: m.SessionID,
		Flags:     flags,
		Channel:   m.Channel,
		Date:      m.Date.UTC().Format(time.RFC1123),
	}
}

func errorFrame(code, msg string) proto.Outbound {
	return proto.Outbound{Type: core.EventError.String(), Data: proto.Error{Code: code, Message: msg}}
}

// outboundFromEvent maps a hub event to a client frame.
func outboundFromEvent(ev *core.Event) proto.Outbound {
	out := proto.Outbound{Type: ev.Kind.String()}

	switch ev.Kind {
	case core.EventAuthComplete:
		out.Data = proto.AuthComplete{Identity: ev.Identity, SessionID: ev.SessionID}
	case core.EventAuthError:
		d := proto.AuthError{}
		if ev.Error != nil {
			d.Reason, d.Message = ev.Error.Code, ev.Error.Message
		}
		out.Data = d
	case core.EventError:
		if ev.Error == nil {
			return errorFrame("unknown", "unknown error")
		}
		return errorFrame(ev.Error.Code, ev.Error.Message)
	case core.EventServerInfo:
		info := ev.Info
		out.Data = proto.ServerInfo{
			Name:             info.Name,
			Version:          info.Version,
			Channels:         info.ChannelsEnabled,
			DefaultChannel:   info.DefaultChannel,
			UserLimit:        info.UserLimit,
			LoginKeyRequired: info.LoginKeyRequired,
			RateLimit:        info.RateLimit,
			RateIntervalMS:   info.RateInterval.Milliseconds(),
			MaxMessageLength: info.MaxMessageLength,
			MaxNameLength:    info.MaxNameLength,
		}
	case core.EventOnline:
		users := make([]proto.User, 0, len(ev.Users))
		for _, u := range ev.Users {
			users = append(users, userFromInfo(u))
		}
		out.Data = users
	case core.EventUserJoin, core.EventUserLeave:
		out.Data = userFromInfo(*ev.User)
	case core.EventNickChanged:
		out.Data = proto.NickChanged{
			OldUser:   ev.Nick.OldUser,
			NewUser:   ev.Nick.NewUser,
			ID:        ev.Nick.ID,
			SessionID: ev.Nick.SessionID,
		}
	case core.EventUserUpdate:
		out.Data = proto.UserUpdate{Type: ev.Update.Type, Tag: ev.Update.Tag, Target: ev.Update.Target}
	case core.EventMessage:
		out.Data = messageFromCore(ev.Message)
	case core.EventSysMessage:
		out.Data = proto.SysMessage{Type: ev.Sys.Type, Content: ev.Sys.Content}
	}
	return out
}
