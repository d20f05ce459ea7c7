package domain

// Chunk is a bounded, ordered fragment of a source text.
type Chunk struct {
	Text        string
	Index       int
	TotalChunks int
	HasNext     bool
	HasPrevious bool
}

// RelevanceMatch is a retrieved chunk with its similarity score.
type RelevanceMatch struct {
	RecordID  string
	SourceKey string
	Title     string
	Content   string
	Score     float32
	Metadata  RecordMetadata
}

// ChatRole identifies the author of a chat message.
type ChatRole string

const (
	ChatRoleSystem    ChatRole = "system"
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
)

// IsValid checks if the role is one of the accepted values.
func (r ChatRole) IsValid() bool {
	switch r {
	case ChatRoleSystem, ChatRoleUser, ChatRoleAssistant:
		return true
	default:
		return false
	}
}

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Role    ChatRole `json:"role"`
	Content string   `json:"content"`
}

// LastUserMessage returns the content of the most recent user message.
func LastUserMessage(messages []ChatMessage) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == ChatRoleUser {
			return messages[i].Content, messages[i].Content != ""
		}
	}
	return "", false
}
