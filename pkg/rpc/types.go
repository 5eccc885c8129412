package rpc

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the kind of an envelope on the wire.
type MessageType string

const (
	// MessageTypeStartStream is sent by the worker to open the stream.
	MessageTypeStartStream MessageType = "START_STREAM"
	// MessageTypeWorkerInit carries the host's init data and capabilities.
	MessageTypeWorkerInit MessageType = "WORKER_INIT_REQUEST"
	// MessageTypeWorkerInitResponse carries the worker's capabilities and status.
	MessageTypeWorkerInitResponse MessageType = "WORKER_INIT_RESPONSE"
	// MessageTypeWorkerHeartbeat is a periodic liveness probe, sent both ways.
	MessageTypeWorkerHeartbeat MessageType = "WORKER_HEARTBEAT"
	// MessageTypeWorkerTerminate asks the worker to drain and shut down.
	MessageTypeWorkerTerminate MessageType = "WORKER_TERMINATE"
	// MessageTypeWorkerStatusRequest asks for a snapshot of worker state.
	MessageTypeWorkerStatusRequest MessageType = "WORKER_STATUS_REQUEST"
	// MessageTypeWorkerStatusResponse answers a status request.
	MessageTypeWorkerStatusResponse MessageType = "WORKER_STATUS_RESPONSE"
	// MessageTypeFunctionLoad asks the worker to load one function.
	MessageTypeFunctionLoad MessageType = "FUNCTION_LOAD_REQUEST"
	// MessageTypeFunctionLoadResponse reports the result of a load.
	MessageTypeFunctionLoadResponse MessageType = "FUNCTION_LOAD_RESPONSE"
	// MessageTypeFunctionsLoadComplete marks the end of function loading.
	MessageTypeFunctionsLoadComplete MessageType = "FUNCTIONS_LOAD_COMPLETE"
	// MessageTypeFunctionsLoadCompleteResponse acknowledges load completion.
	MessageTypeFunctionsLoadCompleteResponse MessageType = "FUNCTIONS_LOAD_COMPLETE_RESPONSE"
	// MessageTypeInvocationRequest asks the worker to run a function.
	MessageTypeInvocationRequest MessageType = "INVOCATION_REQUEST"
	// MessageTypeInvocationResponse reports the outcome of an invocation.
	MessageTypeInvocationResponse MessageType = "INVOCATION_RESPONSE"
	// MessageTypeInvocationCancel asks the worker to cancel a running invocation.
	MessageTypeInvocationCancel MessageType = "INVOCATION_CANCEL"
	// MessageTypeLog streams a log record back to the host.
	MessageTypeLog MessageType = "RPC_LOG"
	// MessageTypeEnvironmentReload asks the worker to re-apply environment variables.
	MessageTypeEnvironmentReload MessageType = "FUNCTION_ENVIRONMENT_RELOAD_REQUEST"
	// MessageTypeEnvironmentReloadResponse acknowledges an environment reload.
	MessageTypeEnvironmentReloadResponse MessageType = "FUNCTION_ENVIRONMENT_RELOAD_RESPONSE"
)

// Known reports whether the message type belongs to the vocabulary this
// worker interprets. Unknown types are tolerated on the wire and ignored by
// the dispatcher, so this is a classification helper, not a validity check.
func (mt MessageType) Known() bool {
	switch mt {
	case MessageTypeStartStream, MessageTypeWorkerInit, MessageTypeWorkerInitResponse,
		MessageTypeWorkerHeartbeat, MessageTypeWorkerTerminate,
		MessageTypeWorkerStatusRequest, MessageTypeWorkerStatusResponse,
		MessageTypeFunctionLoad, MessageTypeFunctionLoadResponse,
		MessageTypeFunctionsLoadComplete, MessageTypeFunctionsLoadCompleteResponse,
		MessageTypeInvocationRequest, MessageTypeInvocationResponse,
		MessageTypeInvocationCancel, MessageTypeLog,
		MessageTypeEnvironmentReload, MessageTypeEnvironmentReloadResponse:
		return true
	default:
		return false
	}
}

// Envelope is the frame every message travels in. RequestID correlates a
// response with its request; Content holds the type-specific payload.
type Envelope struct {
	RequestID string          `json:"requestId"`
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Content   json.RawMessage `json:"content,omitempty"`
}

// Validate checks the structural requirements of an envelope. It does not
// reject unknown message types; forward compatibility requires tolerating
// them.
func (e *Envelope) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("envelope has no message type")
	}
	return nil
}

// NewEnvelope builds an envelope with the given payload marshaled into
// Content. A nil payload produces an envelope without content.
func NewEnvelope(requestID string, mt MessageType, payload interface{}) (Envelope, error) {
	env := Envelope{
		RequestID: requestID,
		Type:      mt,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("failed to marshal %s content: %w", mt, err)
		}
		env.Content = data
	}
	return env, nil
}

// ParseContent unmarshals an envelope's content into target.
func ParseContent(content json.RawMessage, target interface{}) error {
	if err := json.Unmarshal(content, target); err != nil {
		return fmt.Errorf("failed to parse content: %w", err)
	}
	return nil
}

// Status is the three-valued outcome the host understands.
type Status string

const (
	// StatusFailure indicates the operation failed.
	StatusFailure Status = "failure"
	// StatusSuccess indicates the operation succeeded.
	StatusSuccess Status = "success"
	// StatusCancelled indicates the operation was cancelled cooperatively.
	// Distinct from failure so the host can tell the two apart.
	StatusCancelled Status = "cancelled"
)

// ExceptionInfo describes a failure for the host's diagnostics.
type ExceptionInfo struct {
	Message    string `json:"message"`
	StackTrace string `json:"stackTrace,omitempty"`
	Source     string `json:"source,omitempty"`
}

// StatusResult is the wire form of an operation outcome.
type StatusResult struct {
	Status    Status         `json:"status"`
	Result    string         `json:"result,omitempty"`
	Exception *ExceptionInfo `json:"exception,omitempty"`
	Logs      []LogRecord    `json:"logs,omitempty"`
}

// StartStream identifies the worker when the stream opens.
type StartStream struct {
	WorkerID string `json:"workerId"`
}

// WorkerInitRequest is the host's opening message after StartStream.
type WorkerInitRequest struct {
	HostVersion     string              `json:"hostVersion"`
	ProtocolVersion string              `json:"protocolVersion"`
	WorkerDirectory string              `json:"workerDirectory,omitempty"`
	Capabilities    map[string]string   `json:"capabilities,omitempty"`
	LogCategories   map[string]LogLevel `json:"logCategories,omitempty"`
}

// WorkerInitResponse announces the worker's version and capabilities.
type WorkerInitResponse struct {
	WorkerVersion   string            `json:"workerVersion"`
	ProtocolVersion string            `json:"protocolVersion"`
	Capabilities    map[string]string `json:"capabilities,omitempty"`
	Result          StatusResult      `json:"result"`
}

// WorkerHeartbeat is intentionally empty.
type WorkerHeartbeat struct{}

// WorkerTerminate warns the worker it will be killed after the grace period.
type WorkerTerminate struct {
	GracePeriodSeconds int `json:"gracePeriodSeconds,omitempty"`
}

// WorkerStatusRequest asks for a snapshot of worker state.
type WorkerStatusRequest struct{}

// WorkerStatusResponse is the fixed acknowledgement to a status probe.
type WorkerStatusResponse struct {
	ActiveInvocations int     `json:"activeInvocations"`
	LoadedFunctions   int     `json:"loadedFunctions"`
	UptimeSeconds     float64 `json:"uptimeSeconds"`
}

// FunctionEnvironmentReloadRequest carries replacement environment variables.
type FunctionEnvironmentReloadRequest struct {
	EnvironmentVariables map[string]string `json:"environmentVariables"`
}

// FunctionEnvironmentReloadResponse acknowledges an environment reload.
type FunctionEnvironmentReloadResponse struct {
	Result StatusResult `json:"result"`
}

// BindingDirection tells whether a binding carries data in, out, or both.
type BindingDirection string

const (
	// DirectionIn marks an input binding.
	DirectionIn BindingDirection = "in"
	// DirectionOut marks an output binding.
	DirectionOut BindingDirection = "out"
	// DirectionInOut marks a binding used in both directions.
	DirectionInOut BindingDirection = "inout"
)

// Validate checks the direction is one of the declared values.
func (d BindingDirection) Validate() error {
	switch d {
	case DirectionIn, DirectionOut, DirectionInOut:
		return nil
	default:
		return fmt.Errorf("invalid binding direction: %s", d)
	}
}

// BindingDataType is the host's hint about the payload representation.
type BindingDataType string

const (
	// DataTypeUndefined leaves the representation to the binding kind.
	DataTypeUndefined BindingDataType = "undefined"
	// DataTypeString requests a textual payload.
	DataTypeString BindingDataType = "string"
	// DataTypeBinary requests a byte payload.
	DataTypeBinary BindingDataType = "binary"
	// DataTypeStream requests a streamed byte payload.
	DataTypeStream BindingDataType = "stream"
)

// BindingInfo describes one declared binding slot of a function.
type BindingInfo struct {
	Name      string           `json:"name"`
	Kind      string           `json:"kind"`
	Direction BindingDirection `json:"direction"`
	DataType  BindingDataType  `json:"dataType,omitempty"`
}

// FunctionMetadata is everything the host tells the worker about a function.
// Bindings are ordered; the order is part of the function's contract.
type FunctionMetadata struct {
	Name       string        `json:"name"`
	Directory  string        `json:"directory,omitempty"`
	EntryPoint string        `json:"entryPoint,omitempty"`
	Bindings   []BindingInfo `json:"bindings"`
}

// FunctionLoadRequest asks the worker to load a function.
type FunctionLoadRequest struct {
	FunctionID string           `json:"functionId"`
	Metadata   FunctionMetadata `json:"metadata"`
}

// FunctionLoadResponse reports a per-function load result.
type FunctionLoadResponse struct {
	FunctionID string       `json:"functionId"`
	Result     StatusResult `json:"result"`
}

// FunctionsLoadComplete marks the registry read-only.
type FunctionsLoadComplete struct{}

// FunctionsLoadCompleteResponse acknowledges registry sealing.
type FunctionsLoadCompleteResponse struct {
	Result StatusResult `json:"result"`
}

// ParameterBinding pairs a binding name with its data for one invocation.
type ParameterBinding struct {
	Name string     `json:"name"`
	Data TypedValue `json:"data"`
}

// TraceContext carries host-supplied correlation metadata.
type TraceContext struct {
	TraceParent string            `json:"traceParent,omitempty"`
	TraceState  string            `json:"traceState,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// InvocationRequest asks the worker to run a loaded function.
type InvocationRequest struct {
	InvocationID    string                `json:"invocationId"`
	FunctionID      string                `json:"functionId"`
	InputData       []ParameterBinding    `json:"inputData,omitempty"`
	TriggerMetadata map[string]TypedValue `json:"triggerMetadata,omitempty"`
	TraceContext    TraceContext          `json:"traceContext,omitempty"`
}

// Validate checks the structural requirements of an invocation request.
func (r *InvocationRequest) Validate() error {
	if r.InvocationID == "" {
		return fmt.Errorf("invocation id is required")
	}
	if r.FunctionID == "" {
		return fmt.Errorf("function id is required")
	}
	return nil
}

// InvocationCancel asks the worker to cancel a running invocation.
type InvocationCancel struct {
	InvocationID       string `json:"invocationId"`
	Reason             string `json:"reason,omitempty"`
	GracePeriodSeconds int    `json:"gracePeriodSeconds,omitempty"`
}

// InvocationResponse reports the outcome of one invocation. Exactly one is
// produced per invocation request.
type InvocationResponse struct {
	InvocationID string             `json:"invocationId"`
	OutputData   []ParameterBinding `json:"outputData,omitempty"`
	ReturnValue  *TypedValue        `json:"returnValue,omitempty"`
	Result       StatusResult       `json:"result"`
}

// LogLevel mirrors the host's log level vocabulary.
type LogLevel string

const (
	LogLevelTrace       LogLevel = "trace"
	LogLevelDebug       LogLevel = "debug"
	LogLevelInformation LogLevel = "information"
	LogLevelWarning     LogLevel = "warning"
	LogLevelError       LogLevel = "error"
	LogLevelCritical    LogLevel = "critical"
	LogLevelNone        LogLevel = "none"
)

// LogRecord is one log line streamed back to the host. InvocationID is empty
// for worker-level records.
type LogRecord struct {
	InvocationID string         `json:"invocationId,omitempty"`
	Category     string         `json:"category,omitempty"`
	Level        LogLevel       `json:"level"`
	Message      string         `json:"message"`
	EventID      string         `json:"eventId,omitempty"`
	Exception    *ExceptionInfo `json:"exception,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}
