package llm

// Role identifies the speaker of a message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of conversation history
type Message struct {
	Role    Role
	Content string
}

// Conversation is the history of one call, capped to the most recent messages.
// It belongs to a single session and is not safe for concurrent use.
type Conversation struct {
	ID           string // optional, forwarded to remote agents
	SystemPrompt string
	maxMessages  int
	messages     []Message
}

// NewConversation creates an empty history. maxMessages <= 0 means unlimited.
func NewConversation(systemPrompt string, maxMessages int) *Conversation {
	return &Conversation{
		SystemPrompt: systemPrompt,
		maxMessages:  maxMessages,
	}
}

// AddUser appends a caller message
func (c *Conversation) AddUser(text string) {
	c.add(Message{Role: RoleUser, Content: text})
}

// AddAssistant appends a reply
func (c *Conversation) AddAssistant(text string) {
	c.add(Message{Role: RoleAssistant, Content: text})
}

func (c *Conversation) add(m Message) {
	c.messages = append(c.messages, m)
	if c.maxMessages > 0 && len(c.messages) > c.maxMessages {
		c.messages = append(c.messages[:0], c.messages[len(c.messages)-c.maxMessages:]...)
	}
}

// Messages returns a copy of the history, oldest first, without the system prompt
func (c *Conversation) Messages() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// LastUserMessage returns the most recent caller message, if any
func (c *Conversation) LastUserMessage() string {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role == RoleUser {
			return c.messages[i].Content
		}
	}
	return ""
}

// Len returns the number of stored messages
func (c *Conversation) Len() int {
	return len(c.messages)
}

// Truncate drops messages beyond n, used to roll back a turn that failed after its
// user message was recorded
func (c *Conversation) Truncate(n int) {
	if n >= 0 && n < len(c.messages) {
		c.messages = c.messages[:n]
	}
}
