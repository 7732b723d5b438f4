package entity

type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

type Message struct {
	Role       MessageRole
	Content    string
	Thinking   string
	ToolCalls  []ToolCall
	ToolCallID string
	Name       string
	Files      []FileRef
}

// ToolCall is a model-issued request. Arguments holds the raw JSON object.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolResult answers one ToolCall. Content is a JSON payload shaped
// {"result": ...} or {"error": ...}.
type ToolResult struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}

func (r ToolResult) Message() Message {
	return Message{
		Role:       RoleTool,
		ToolCallID: r.CallID,
		Name:       r.Name,
		Content:    r.Content,
	}
}

// FileRef points at a file previously uploaded to the model provider.
type FileRef struct {
	URI      string
	MIMEType string
	Name     string
}
