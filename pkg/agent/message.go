package agent

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is the envelope every websocket frame carries.
type Message struct {
	Kind      MessageKind     `json:"kind"`
	Type      string          `json:"type"`
	ID        uint64          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// MessageKind tells requests, replies and notifications apart.
type MessageKind string

const (
	KindRequest      MessageKind = "request"
	KindReply        MessageKind = "reply"
	KindNotification MessageKind = "notify"
)

// Request types.
const (
	TypeAddOrChangeBreakpoint = "add_or_change_breakpoint"
	TypeRemoveBreakpoint      = "remove_breakpoint"
	TypeResume                = "resume"
	TypeReadRegisters         = "read_registers"
	TypeReadMemory            = "read_memory"
)

func newMessage(kind MessageKind, typ string, id uint64, payload interface{}) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s: %w", typ, err)
	}
	return Message{
		Kind:      kind,
		Type:      typ,
		ID:        id,
		Payload:   data,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// NotificationMessage wraps n for the wire.
func NotificationMessage(n Notification) (Message, error) {
	return newMessage(KindNotification, n.notificationType(), 0, n)
}

// DecodeNotification is the inverse of NotificationMessage.
func DecodeNotification(m Message) (Notification, error) {
	var (
		n   Notification
		err error
	)
	switch m.Type {
	case NotifyProcessStarting{}.notificationType():
		var v NotifyProcessStarting
		err = json.Unmarshal(m.Payload, &v)
		n = v
	case NotifyProcessExiting{}.notificationType():
		var v NotifyProcessExiting
		err = json.Unmarshal(m.Payload, &v)
		n = v
	case NotifyThreadStarting{}.notificationType():
		var v NotifyThreadStarting
		err = json.Unmarshal(m.Payload, &v)
		n = v
	case NotifyThreadExiting{}.notificationType():
		var v NotifyThreadExiting
		err = json.Unmarshal(m.Payload, &v)
		n = v
	case NotifyModules{}.notificationType():
		var v NotifyModules
		err = json.Unmarshal(m.Payload, &v)
		n = v
	case NotifyException{}.notificationType():
		var v NotifyException
		err = json.Unmarshal(m.Payload, &v)
		n = v
	default:
		return nil, fmt.Errorf("%w: notification %q", ErrUnknownMessage, m.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", m.Type, err)
	}
	return n, nil
}

// dispatch runs the request in m against b and returns the reply envelope.
func dispatch(b Backend, m Message) (Message, error) {
	var reply interface{}
	switch m.Type {
	case TypeAddOrChangeBreakpoint:
		var req AddOrChangeBreakpointRequest
		if err := json.Unmarshal(m.Payload, &req); err != nil {
			return Message{}, fmt.Errorf("decode %s: %w", m.Type, err)
		}
		reply = b.AddOrChangeBreakpoint(req)
	case TypeRemoveBreakpoint:
		var req RemoveBreakpointRequest
		if err := json.Unmarshal(m.Payload, &req); err != nil {
			return Message{}, fmt.Errorf("decode %s: %w", m.Type, err)
		}
		reply = b.RemoveBreakpoint(req)
	case TypeResume:
		var req ResumeRequest
		if err := json.Unmarshal(m.Payload, &req); err != nil {
			return Message{}, fmt.Errorf("decode %s: %w", m.Type, err)
		}
		reply = b.Resume(req)
	case TypeReadRegisters:
		var req ReadRegistersRequest
		if err := json.Unmarshal(m.Payload, &req); err != nil {
			return Message{}, fmt.Errorf("decode %s: %w", m.Type, err)
		}
		reply = b.ReadRegisters(req)
	case TypeReadMemory:
		var req ReadMemoryRequest
		if err := json.Unmarshal(m.Payload, &req); err != nil {
			return Message{}, fmt.Errorf("decode %s: %w", m.Type, err)
		}
		reply = b.ReadMemory(req)
	default:
		return Message{}, fmt.Errorf("%w: request %q", ErrUnknownMessage, m.Type)
	}
	return newMessage(KindReply, m.Type, m.ID, reply)
}
