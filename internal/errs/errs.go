// Package errs defines the typed error taxonomy shared by every orchestrator
// component. Every error carries a Kind and a Retryable flag instead of a
// free-form string, so callers can make retry and surfacing decisions
// without parsing messages.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an Error for retry and presentation decisions.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindAlreadyExists
	KindAlreadyClaimed
	KindDuplicateNode
	KindInvalidTransition
	KindInvalidConfig
	KindInvalidContract
	KindTimeout
	KindPoolExhausted
	KindConcurrencyLimit
	KindStoreFailed
	KindSchemaError
	KindSerializationError
	KindHandlerFailed
	KindAllHandlersFailed
	KindMaxRetriesExceeded
	KindCycleDetected
	KindShutdown
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindAlreadyExists:
		return "already_exists"
	case KindAlreadyClaimed:
		return "already_claimed"
	case KindDuplicateNode:
		return "duplicate_node"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindInvalidConfig:
		return "invalid_config"
	case KindInvalidContract:
		return "invalid_contract"
	case KindTimeout:
		return "timeout"
	case KindPoolExhausted:
		return "pool_exhausted"
	case KindConcurrencyLimit:
		return "concurrency_limit"
	case KindStoreFailed:
		return "store_failed"
	case KindSchemaError:
		return "schema_error"
	case KindSerializationError:
		return "serialization_error"
	case KindHandlerFailed:
		return "handler_failed"
	case KindAllHandlersFailed:
		return "all_handlers_failed"
	case KindMaxRetriesExceeded:
		return "max_retries_exceeded"
	case KindCycleDetected:
		return "cycle_detected"
	case KindShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Error is the structured error type returned by every component in this
// module. Never build one from a bare fmt.Sprintf string outside this
// package; use the constructors below so Kind stays authoritative.
type Error struct {
	Kind   Kind
	Entity string
	ID     string
	Reason string
	Err    error
	Fields map[string]string
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNotFound:
		return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
	case KindAlreadyExists:
		return fmt.Sprintf("%s already exists: %s", e.Entity, e.ID)
	case KindAlreadyClaimed:
		return fmt.Sprintf("bead already claimed: %s by %s", e.ID, e.Fields["worker_id"])
	case KindDuplicateNode:
		return fmt.Sprintf("duplicate node: %s", e.ID)
	case KindInvalidTransition:
		return fmt.Sprintf("invalid state transition: %s -> %s", e.Fields["from"], e.Fields["to"])
	case KindInvalidConfig:
		return fmt.Sprintf("invalid config: %s", e.Reason)
	case KindInvalidContract:
		return fmt.Sprintf("invalid contract: %s", e.Reason)
	case KindTimeout:
		return fmt.Sprintf("timeout in %s after %s", e.Entity, e.Fields["duration"])
	case KindPoolExhausted:
		return fmt.Sprintf("pool exhausted: %s", e.Entity)
	case KindConcurrencyLimit:
		return fmt.Sprintf("concurrency limit reached: %s", e.Entity)
	case KindStoreFailed:
		if e.Err != nil {
			return fmt.Sprintf("store failed: %s: %v", e.Reason, e.Err)
		}
		return fmt.Sprintf("store failed: %s", e.Reason)
	case KindSchemaError:
		return fmt.Sprintf("schema error: %s", e.Reason)
	case KindSerializationError:
		return fmt.Sprintf("serialization error: %s", e.Reason)
	case KindHandlerFailed:
		return fmt.Sprintf("handler %s failed: %s", e.ID, e.Reason)
	case KindAllHandlersFailed:
		return fmt.Sprintf("all handlers failed: %s", e.Fields["handlers"])
	case KindMaxRetriesExceeded:
		return fmt.Sprintf("max retries exceeded for %s after %s attempts", e.Entity, e.Fields["attempts"])
	case KindCycleDetected:
		return fmt.Sprintf("cycle detected: adding %s -> %s would close a cycle", e.Fields["from"], e.Fields["to"])
	case KindShutdown:
		return fmt.Sprintf("shutdown: %s", e.Reason)
	default:
		return e.Reason
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the policy budget should retry this error.
// Mirrors the taxonomy's retry rule: timeouts, pool exhaustion, and
// transient storage/handler failures are retried; everything about
// malformed input or already-settled state is not.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTimeout, KindPoolExhausted, KindStoreFailed, KindHandlerFailed, KindConcurrencyLimit:
		return true
	default:
		return false
	}
}

// Retryable reports whether err (or a wrapped *Error within it) is retryable.
func Retryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}

// KindOf extracts the Kind of err, or KindUnknown if err isn't an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err's Kind equals k.
func Is(err error, k Kind) bool {
	return KindOf(err) == k
}

func NotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Entity: entity, ID: id}
}

func AlreadyExists(entity, id string) *Error {
	return &Error{Kind: KindAlreadyExists, Entity: entity, ID: id}
}

func AlreadyClaimed(beadID, workerID string) *Error {
	return &Error{Kind: KindAlreadyClaimed, Entity: "bead", ID: beadID, Fields: map[string]string{"worker_id": workerID}}
}

func DuplicateNode(id string) *Error {
	return &Error{Kind: KindDuplicateNode, Entity: "node", ID: id}
}

func InvalidTransition(from, to string) *Error {
	return &Error{Kind: KindInvalidTransition, Fields: map[string]string{"from": from, "to": to}}
}

func InvalidConfig(reason string) *Error {
	return &Error{Kind: KindInvalidConfig, Reason: reason}
}

func InvalidContract(reason string) *Error {
	return &Error{Kind: KindInvalidContract, Reason: reason}
}

func Timeout(entity string, d time.Duration) *Error {
	return &Error{Kind: KindTimeout, Entity: entity, Fields: map[string]string{"duration": d.String()}}
}

func PoolExhausted(entity string) *Error {
	return &Error{Kind: KindPoolExhausted, Entity: entity}
}

func ConcurrencyLimit(entity string) *Error {
	return &Error{Kind: KindConcurrencyLimit, Entity: entity}
}

func StoreFailed(reason string, cause error) *Error {
	return &Error{Kind: KindStoreFailed, Reason: reason, Err: cause}
}

func SchemaError(reason string) *Error {
	return &Error{Kind: KindSchemaError, Reason: reason}
}

func SerializationError(reason string) *Error {
	return &Error{Kind: KindSerializationError, Reason: reason}
}

func HandlerFailed(handler, reason string, cause error) *Error {
	return &Error{Kind: KindHandlerFailed, ID: handler, Reason: reason, Err: cause}
}

func AllHandlersFailed(handlers []string) *Error {
	joined := ""
	for i, h := range handlers {
		if i > 0 {
			joined += ","
		}
		joined += h
	}
	return &Error{Kind: KindAllHandlersFailed, Fields: map[string]string{"handlers": joined}}
}

func MaxRetriesExceeded(entity string, attempts int) *Error {
	return &Error{Kind: KindMaxRetriesExceeded, Entity: entity, Fields: map[string]string{"attempts": fmt.Sprintf("%d", attempts)}}
}

func CycleDetected(from, to string) *Error {
	return &Error{Kind: KindCycleDetected, Fields: map[string]string{"from": from, "to": to}}
}

func Shutdown(reason string) *Error {
	return &Error{Kind: KindShutdown, Reason: reason}
}
