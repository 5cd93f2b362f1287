package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lhdbsbz/vetd/internal/config"
	"github.com/lhdbsbz/vetd/internal/gateway"
)

// WSAdapter implements Adapter on top of the bridge connected to the
// gateway's /ws endpoint. All platform primitives become request frames;
// new-message events arrive as pushed frames and are forwarded to the
// registered handler.
type WSAdapter struct {
	link *gateway.BridgeLink

	mu        sync.Mutex
	onMessage func(InboundMessage)
}

func NewWSAdapter(link *gateway.BridgeLink) *WSAdapter {
	a := &WSAdapter{link: link}
	link.SetEventHandler(a.handleEvent)
	return a
}

func (a *WSAdapter) handleEvent(event string, payload json.RawMessage) {
	if event != gateway.EventMessageCreated {
		return
	}
	var msg InboundMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		slog.Warn("invalid message.created payload", "error", err)
		return
	}
	if msg.IsFromSelf {
		return
	}
	a.mu.Lock()
	fn := a.onMessage
	a.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

func (a *WSAdapter) OnMessageCreated(fn func(InboundMessage)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onMessage = fn
}

func (a *WSAdapter) PollJoinRequests(ctx context.Context) ([]JoinRequest, error) {
	params := map[string]string{"groupId": config.Get().Group.ID}
	var out struct {
		Requests []JoinRequest `json:"requests"`
	}
	if err := a.link.Call(ctx, gateway.MethodJoinList, params, &out); err != nil {
		return nil, fmt.Errorf("poll join requests: %w", err)
	}
	return out.Requests, nil
}

func (a *WSAdapter) ApplyJoinDecision(ctx context.Context, requestID string, approve bool) error {
	params := map[string]string{"requestId": requestID}
	if !approve {
		if err := a.link.Call(ctx, gateway.MethodJoinReject, params, nil); err != nil {
			return fmt.Errorf("reject join: %w", err)
		}
		return nil
	}
	if err := a.link.Call(ctx, gateway.MethodJoinApprove, params, nil); err != nil {
		return fmt.Errorf("approve join: %w", err)
	}
	group := config.Get().Group
	if group.WelcomeChatID == "" {
		return nil
	}
	err := a.link.Call(ctx, gateway.MethodMessageSend, map[string]string{
		"chatId": group.WelcomeChatID,
		"text":   group.WelcomeText,
	}, nil)
	if err != nil {
		// The approval stands; only the welcome failed.
		return fmt.Errorf("welcome message: %w", err)
	}
	return nil
}

func (a *WSAdapter) ApplyMessageDecision(ctx context.Context, messageID, chatID, authorID string, spam bool) error {
	if !spam {
		return nil
	}
	var delErr, remErr error
	if err := a.link.Call(ctx, gateway.MethodMessageDelete, map[string]string{
		"chatId":    chatID,
		"messageId": messageID,
	}, nil); err != nil {
		delErr = fmt.Errorf("delete message: %w", err)
	}
	if err := a.link.Call(ctx, gateway.MethodParticipantRemove, map[string]string{
		"chatId": chatID,
		"userId": authorID,
	}, nil); err != nil {
		remErr = fmt.Errorf("remove participant: %w", err)
	}
	return errors.Join(delErr, remErr)
}
