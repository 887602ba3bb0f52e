package agentrun

import "encoding/json"

// Wire shapes of the agents service REST API.

type providerThread struct {
	ID     string `json:"id"`
	Object string `json:"object"`
}

type providerCreateMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type providerCreateRun struct {
	AssistantID string `json:"assistant_id"`
}

type providerRun struct {
	ID        string `json:"id"`
	ThreadID  string `json:"thread_id"`
	Status    string `json:"status"`
	LastError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error,omitempty"`
}

// Run statuses after which the run will not change again.
var terminalStatuses = map[string]bool{
	"completed":  true,
	"failed":     true,
	"cancelled":  true,
	"expired":    true,
	"incomplete": true,
}

func (r *providerRun) terminal() bool {
	return terminalStatuses[r.Status]
}

type providerMessageList struct {
	Object string            `json:"object"`
	Data   []json.RawMessage `json:"data"`
}

type providerMessage struct {
	ID      string          `json:"id"`
	Role    string          `json:"role"`
	RunID   string          `json:"run_id"`
	Content json.RawMessage `json:"content"`
}

type providerContentPart struct {
	Type string `json:"type"`
	Text *struct {
		Value string `json:"value"`
	} `json:"text,omitempty"`
}

type providerErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
		Type    string `json:"type"`
	} `json:"error"`
}
