package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields carried on context loggers through a request or job.
const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldJobID is the extraction job ID
	FieldJobID = "job_id"

	// FieldTaskID is the queue task ID
	FieldTaskID = "task_id"

	// FieldStoreID is the store being synchronized
	FieldStoreID = "store_id"

	// FieldPlatform is the commerce platform of the store
	FieldPlatform = "platform"

	// FieldComponent is the component/module name
	FieldComponent = "component"

	// FieldUserID is the acting user
	FieldUserID = "user_id"
)

// Metric fields attached per entry, used for aggregation and alerting.
const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field
	FieldCount = "count"

	// FieldSize is the data size in bytes
	FieldSize = "size"

	// FieldStatus is the operation status
	FieldStatus = "status"

	// FieldPhase is the extraction phase name
	FieldPhase = "phase"

	// FieldAttempt is the delivery attempt number
	FieldAttempt = "attempt"
)
