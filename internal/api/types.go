package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// WorkItem describes a discovered object in a transport-friendly format.
type WorkItem struct {
	Key    string            `json:"key"`
	Kind   string            `json:"kind"`
	Entity string            `json:"entity"`
	Args   map[string]string `json:"args,omitempty"`
}

// JobStatus mirrors one periodic job's bookkeeping.
type JobStatus struct {
	Name            string `json:"name"`
	IntervalSeconds int    `json:"intervalSeconds"`
	Runs            int    `json:"runs"`
	LastRun         string `json:"lastRun,omitempty"`
	NextRun         string `json:"nextRun,omitempty"`
	LastError       string `json:"lastError,omitempty"`
	Running         bool   `json:"running"`
}

// Health mirrors readiness reporting for node dependencies.
type Health struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// WorkflowStatus summarizes workflow execution state.
type WorkflowStatus struct {
	Running   bool        `json:"running"`
	StartedAt string      `json:"startedAt,omitempty"`
	Workers   int         `json:"workers"`
	InFlight  int         `json:"inFlight"`
	Pending   int         `json:"pending"`
	Executed  int         `json:"executed"`
	LastError string      `json:"lastError,omitempty"`
	LastItem  *WorkItem   `json:"lastItem,omitempty"`
	Jobs      []JobStatus `json:"jobs"`
	Health    []Health    `json:"health"`
}

// QueueDepths reports how many entries wait on the shared queues.
type QueueDepths struct {
	Proposals int64 `json:"proposals"`
	Reviews   int64 `json:"reviews"`
}

// NodeStatus aggregates node runtime information for API consumers.
type NodeStatus struct {
	Running        bool            `json:"running"`
	PID            int             `json:"pid"`
	StoreBackend   string          `json:"storeBackend"`
	StoreReachable bool            `json:"storeReachable"`
	StoreError     string          `json:"storeError,omitempty"`
	LockFilePath   string          `json:"lockFilePath,omitempty"`
	Queues         QueueDepths     `json:"queues"`
	Workflow       *WorkflowStatus `json:"workflow,omitempty"`
}

// UploadResponse names the object an upload was stored under.
type UploadResponse struct {
	Key  string `json:"key"`
	Kind string `json:"kind"`
}

// ReviewRequest queues notes for a hero review.
type ReviewRequest struct {
	Hero      string `json:"hero"`
	Message   string `json:"message"`
	ChannelID string `json:"channelId,omitempty"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NotificationResponse reports the outcome of a test notification.
type NotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
