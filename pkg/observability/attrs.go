package observability

import (
	"go.opentelemetry.io/otel/attribute"

	"github.com/R3DRVM/BlossomV2/pkg/contracts"
)

// Intent attributes.
var (
	AttrIntentID  = attribute.Key("blossom.intent.id")
	AttrActor     = attribute.Key("blossom.intent.actor")
	AttrTransfer  = attribute.Key("blossom.intent.transfer")
	AttrErrorCode = attribute.Key("blossom.error.code")
)

// IntentAttributes returns low-cardinality attributes for metrics. The intent ID is left to
// span events via SpanAttributes.
func IntentAttributes(i contracts.Intent) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTransfer.Bool(i.Recipient != ""),
	}
}

// SpanAttributes returns the high-cardinality attributes attached to spans only.
func SpanAttributes(i contracts.Intent) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrIntentID.String(i.ID),
		AttrActor.String(i.Actor),
	}
}

// ErrorCode returns the ExecutionError code of err, or "INTERNAL" for infrastructure failures.
func ErrorCode(err error) string {
	if e, ok := contracts.AsExecutionError(err); ok {
		return string(e.Code)
	}
	return "INTERNAL"
}
