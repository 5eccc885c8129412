package bindings

import "github.com/fnworks/fnworker/pkg/rpc"

// Binding kinds this worker supports. A FunctionLoad referencing any other
// kind fails that function's load without aborting the session.
const (
	KindHTTPTrigger          = "httpTrigger"
	KindHTTP                 = "http"
	KindQueueTrigger         = "queueTrigger"
	KindQueue                = "queue"
	KindBlobTrigger          = "blobTrigger"
	KindBlob                 = "blob"
	KindTimerTrigger         = "timerTrigger"
	KindTable                = "table"
	KindActivityTrigger      = "activityTrigger"
	KindOrchestrationTrigger = "orchestrationTrigger"
)

var supportedKinds = map[string]bool{
	KindHTTPTrigger:          true,
	KindHTTP:                 true,
	KindQueueTrigger:         true,
	KindQueue:                true,
	KindBlobTrigger:          true,
	KindBlob:                 true,
	KindTimerTrigger:         true,
	KindTable:                true,
	KindActivityTrigger:      true,
	KindOrchestrationTrigger: true,
}

// Supported reports whether the worker can serve the binding kind.
func Supported(kind string) bool {
	return supportedKinds[kind]
}

// Conforms checks that a wire value's discriminant can satisfy the declared
// data type of a binding slot. It is the cheap structural check the executor
// runs before handing inputs to user code.
func Conforms(v rpc.TypedValue, dataType rpc.BindingDataType) error {
	switch dataType {
	case rpc.DataTypeString:
		if v.Kind != rpc.KindString && v.Kind != rpc.KindJSON {
			return typeMismatch(string(rpc.DataTypeString), string(v.Kind))
		}
	case rpc.DataTypeBinary:
		if v.Kind != rpc.KindBytes && v.Kind != rpc.KindString {
			return typeMismatch(string(rpc.DataTypeBinary), string(v.Kind))
		}
	case rpc.DataTypeStream:
		if v.Kind != rpc.KindStream && v.Kind != rpc.KindBytes {
			return typeMismatch(string(rpc.DataTypeStream), string(v.Kind))
		}
	case rpc.DataTypeUndefined, "":
		// Any discriminant is acceptable.
	}
	return nil
}
