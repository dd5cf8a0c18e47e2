package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"chat-backend/internal/models"
	"chat-backend/internal/services"

	"go.uber.org/zap"
)

// idPayload accepts both a bare JSON string and {"chatId"|"userId": ...}.
type idPayload struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

func decodeID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id, nil
	}
	var p idPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", fmt.Errorf("%w: malformed payload", services.ErrValidation)
	}
	if p.ChatID != "" {
		return p.ChatID, nil
	}
	return p.UserID, nil
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing payload", services.ErrValidation)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: malformed payload", services.ErrValidation)
	}
	return nil
}

var knownEvents = map[string]struct{}{
	models.EventJoinGlobal:  {},
	models.EventJoinChat:    {},
	models.EventLeaveChat:   {},
	models.EventSendMessage: {},
	models.EventTypingStart: {},
	models.EventTypingStop:  {},
	models.EventMarkRead:    {},
}

// Dispatch handles one client frame to completion. Failures are reported to
// the originating session only; a panic in a handler is contained here.
func (e *Engine) Dispatch(ctx context.Context, s *Session, frame []byte) {
	var env models.Envelope
	if err := json.Unmarshal(frame, &env); err != nil || strings.TrimSpace(env.Event) == "" {
		e.fail(s, models.Envelope{}, fmt.Errorf("%w: malformed frame", services.ErrValidation))
		return
	}

	label := env.Event
	if _, ok := knownEvents[label]; !ok {
		label = "unknown"
	}
	e.metrics.Events.WithLabelValues(label).Inc()

	if !s.Allow() {
		e.metrics.EventErrors.WithLabelValues(label, services.CodeRateLimited).Inc()
		_ = s.Send(models.EventError, models.ErrorEvent{
			Event:   env.Event,
			Code:    services.CodeRateLimited,
			Message: "too many events",
		})
		return
	}

	defer func() {
		if r := recover(); r != nil {
			e.log.Error("event handler panicked",
				zap.String("event", env.Event),
				zap.String("user_id", s.UserID()),
				zap.String("session_id", s.ID()),
				zap.Any("panic", r),
				zap.Stack("stack"))
			e.fail(s, env, fmt.Errorf("%w: internal error", services.ErrPersistence))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := e.handle(ctx, s, env); err != nil {
		e.fail(s, env, err)
	}
}

func (e *Engine) handle(ctx context.Context, s *Session, env models.Envelope) error {
	switch env.Event {
	case models.EventJoinGlobal:
		id, err := decodeID(env.Data)
		if err != nil {
			return err
		}
		return e.JoinGlobal(s, id)

	case models.EventJoinChat, models.EventLeaveChat, models.EventTypingStart, models.EventTypingStop:
		chatID, err := decodeID(env.Data)
		if err != nil {
			return err
		}
		switch env.Event {
		case models.EventJoinChat:
			return e.JoinChat(ctx, s, chatID)
		case models.EventLeaveChat:
			return e.LeaveChat(s, chatID)
		case models.EventTypingStart:
			return e.TypingStart(ctx, s, chatID)
		default:
			return e.TypingStop(ctx, s, chatID)
		}

	case models.EventSendMessage:
		var p models.SendMessagePayload
		if err := decode(env.Data, &p); err != nil {
			return err
		}
		_, err := e.Send(ctx, s, p)
		return err

	case models.EventMarkRead:
		var p models.MarkReadPayload
		if err := decode(env.Data, &p); err != nil {
			return err
		}
		_, err := e.MarkRead(ctx, s.UserID(), p.MessageIDs)
		return err

	default:
		return fmt.Errorf("%w: unknown event %q", services.ErrValidation, env.Event)
	}
}

// chatIDOf extracts the chat id of a frame for diagnostics.
func chatIDOf(env models.Envelope) string {
	var p struct {
		ChatID string `json:"chatId"`
	}
	if json.Unmarshal(env.Data, &p) == nil && p.ChatID != "" {
		return p.ChatID
	}
	if env.Event == models.EventJoinGlobal {
		return ""
	}
	var id string
	_ = json.Unmarshal(env.Data, &id)
	return id
}

func (e *Engine) fail(s *Session, env models.Envelope, err error) {
	code := services.Code(err)
	event := env.Event
	label := event
	if _, ok := knownEvents[label]; !ok {
		label = "unknown"
	}
	e.metrics.EventErrors.WithLabelValues(label, code).Inc()

	fields := []zap.Field{
		zap.String("event", event),
		zap.String("user_id", s.UserID()),
		zap.String("session_id", s.ID()),
		zap.String("chat_id", chatIDOf(env)),
		zap.String("code", code),
		zap.Error(err),
	}
	if errors.Is(err, services.ErrPersistence) {
		e.log.Error("event failed", fields...)
	} else {
		e.log.Debug("event rejected", fields...)
	}

	// Persistence details stay in the log.
	msg := err.Error()
	if code == services.CodePersistence {
		msg = "could not complete the request"
	}
	_ = s.Send(models.EventError, models.ErrorEvent{Event: event, Code: code, Message: msg})
}
