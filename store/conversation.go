package store

// Conversation groups the messages of one chat.
type Conversation struct {
	UID       string
	CallerID  string
	Title     string
	CreatedTs int64
	UpdatedTs int64
	ID        int32
}

type FindConversation struct {
	ID       *int32
	UID      *string
	CallerID *string
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Metadata       map[string]any
	Role           string
	Content        string
	ID             int64
	CreatedTs      int64
	ConversationID int32
}

type FindMessage struct {
	ConversationID int32
	// Limit keeps the latest messages. Results are always in chronological order.
	Limit int
}
