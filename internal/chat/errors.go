package chat

import "errors"

var (
	// ErrChatNotFound covers both a missing chat and one owned by another user.
	ErrChatNotFound = errors.New("chat not found")

	ErrEmptyMessage = errors.New("message is empty")

	// ErrParentNotFound is returned when a turn branches off a message that
	// is not part of the chat.
	ErrParentNotFound = errors.New("parent message not found")

	ErrInvalidOrder = errors.New("unsupported order column")

	// ErrUpstream marks a failed model provider call. The provider's own
	// error stays in the chain.
	ErrUpstream = errors.New("model provider failed")
)
