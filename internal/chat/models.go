package chat

import (
	"time"

	"gorm.io/datatypes"
)

// DefaultTitle is the placeholder title of a freshly created chat. Title
// generation only ever replaces this value.
const DefaultTitle = "Basic Chat"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message index values for the two halves of a turn.
const (
	UserMessageIndex      = "0"
	AssistantMessageIndex = "1"
)

type Chat struct {
	ID        string    `gorm:"type:varchar(26);primaryKey" json:"id"`
	UserID    string    `gorm:"type:varchar(64);index;not null" json:"user_id"`
	Title     string    `gorm:"type:varchar(255);not null" json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`
}

func (Chat) TableName() string { return "chats" }

// Tool invocation kinds.
const (
	InvocationCall   = "tool-call"
	InvocationResult = "tool-result"
)

// ToolInvocation is one call the model made, or the result of executing it.
type ToolInvocation struct {
	Type      string         `json:"type"`
	CallID    string         `json:"call_id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Result    *string        `json:"result,omitempty"`
}

type Message struct {
	ID              string                              `gorm:"type:varchar(36);primaryKey" json:"id"`
	ChatID          string                              `gorm:"type:varchar(26);not null;index:idx_chat_msg_chat_created,priority:1" json:"chat_id"`
	UserID          string                              `gorm:"type:varchar(64);not null;index" json:"user_id"`
	Role            Role                                `gorm:"type:varchar(16);not null" json:"role"`
	Content         string                              `gorm:"type:text;not null" json:"content"`
	ToolCalls       datatypes.JSONSlice[ToolInvocation] `json:"tool_calls,omitempty"`
	Reasoning       *string                             `gorm:"type:text" json:"reasoning,omitempty"`
	ParentMessageID *string                             `gorm:"type:varchar(36);index" json:"parent_message_id,omitempty"`
	MessageIndex    *string                             `gorm:"type:varchar(16)" json:"message_index,omitempty"`
	CreatedAt       time.Time                           `gorm:"index:idx_chat_msg_chat_created,priority:2" json:"created_at"`
	UpdatedAt       time.Time                           `json:"updated_at"`
}

func (Message) TableName() string { return "chat_messages" }

func strPtr(s string) *string { return &s }
