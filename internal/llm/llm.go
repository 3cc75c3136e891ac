package llm

import "context"

// Request 描述一次无法识别为链上意图的对话输入。
type Request struct {
	Text      string
	Network   string
	ChainID   int64
	Address   string
	AgentName string
	// Examples 是可以直接识别的示例指令，用于引导用户。
	Examples []string
	History  []HistoryEntry
}

// Response 是大模型推理得到的结构化输出。
type Response struct {
	Thought string
	Reply   string
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// HistoryEntry 描述最近一次动作派发，为大模型提供上下文。
type HistoryEntry struct {
	ActionType string
	Status     string
	Summary    string
	CreatedAt  int64
}
