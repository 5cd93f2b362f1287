package platform

import "context"

// JoinRequest is a pending membership request surfaced by the platform.
// RequestID is platform-assigned and unique per request; DisplayName and
// Note may be empty.
type JoinRequest struct {
	RequestID   string `json:"requestId"`
	DisplayName string `json:"displayName"`
	Note        string `json:"note"`
}

// InboundMessage is a newly created message in the monitored group.
// Messages with IsFromSelf set were authored by the bot itself and must
// never be evaluated.
type InboundMessage struct {
	MessageID  string `json:"messageId"`
	ChatID     string `json:"chatId"`
	AuthorID   string `json:"authorId"`
	Body       string `json:"body"`
	IsFromSelf bool   `json:"isFromSelf"`
}

// Adapter is the capability boundary to the messaging platform. Concrete
// implementations (the WebSocket bridge, the in-memory fake in tests) are
// swappable behind it.
type Adapter interface {
	// PollJoinRequests returns the pending join requests for the monitored
	// group. The platform is the source of truth for "pending": requests
	// already resolved are not re-surfaced.
	PollJoinRequests(ctx context.Context) ([]JoinRequest, error)

	// OnMessageCreated registers the handler invoked once per new message.
	// Self-authored messages are filtered before the handler runs.
	OnMessageCreated(fn func(InboundMessage))

	// ApplyJoinDecision approves or rejects a pending join request. On
	// approve it additionally sends the configured welcome message; a
	// welcome-send failure is reported but does not undo the approval.
	ApplyJoinDecision(ctx context.Context, requestID string, approve bool) error

	// ApplyMessageDecision enforces a spam verdict: deletes the message for
	// all participants and removes its author from the chat. Both
	// sub-actions are attempted even if one fails; all failures are
	// reported together. A non-spam verdict is a no-op.
	ApplyMessageDecision(ctx context.Context, messageID, chatID, authorID string, spam bool) error
}
