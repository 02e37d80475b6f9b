package handlers

// PingPayload is the body of a ping envelope.
type PingPayload struct {
	UUID     string `json:"uuid"`
	Deadline uint64 `json:"deadline"`
}

// PongPayload is the body of a pong envelope sent in response to a ping.
type PongPayload struct {
	UUID    string   `json:"uuid"`
	Address string   `json:"address"`
	Models  []string `json:"models"`
	Version string   `json:"version"`
}

// Stats carries the nanosecond timestamps a task response reports.
type Stats struct {
	ReceivedAt  uint64 `json:"receivedAt"`
	PublishedAt uint64 `json:"publishedAt"`
}

// TaskInput is the task-specific portion of a TaskRequestPayload.
type TaskInput struct {
	Workflow map[string]any `json:"workflow"`
	Model    []string       `json:"model"`
	Prompt   *string        `json:"prompt"`
}

// TaskRequestPayload is the body of an inbound task envelope.
type TaskRequestPayload struct {
	TaskID    string    `json:"taskId"`
	Deadline  uint64    `json:"deadline"`
	PublicKey string    `json:"publicKey"`
	Input     TaskInput `json:"input"`
}

// TaskSuccessPayload is the body of a successful task response envelope.
type TaskSuccessPayload struct {
	TaskID     string `json:"taskId"`
	Ciphertext string `json:"ciphertext"`
	Signature  string `json:"signature"`
	Commitment string `json:"commitment"`
	Model      string `json:"model"`
	Stats      Stats  `json:"stats"`
}

// TaskErrorPayload is the body of a failed task response envelope.
type TaskErrorPayload struct {
	TaskID string `json:"taskId"`
	Error  string `json:"error"`
	Model  string `json:"model"`
	Stats  Stats  `json:"stats"`
}
