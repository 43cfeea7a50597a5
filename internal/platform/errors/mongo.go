package errors

// Mongo-specific helpers for mapping driver errors (document store) to
// project ErrorCode and retry semantics, mirroring pg.go for the SQL side

import (
	"context"
	stderrs "errors"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"
)

// IsMongoDuplicateKey reports whether the error is a unique index violation,
// including per-item write errors inside a bulk write exception
func IsMongoDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return mongo.IsDuplicateKeyError(Root(err))
}

// MongoErrorCode maps a mongo driver error to an ErrorCode with an ok flag
// !ok means err wasn't recognizably a driver error
func MongoErrorCode(err error) (ErrorCode, bool) {
	if err == nil {
		return ErrorCodeUnknown, false
	}
	root := Root(err)

	if mongo.IsDuplicateKeyError(root) {
		return ErrorCodeDuplicateKey, true
	}
	if mongo.IsNetworkError(root) || mongo.IsTimeout(root) {
		return ErrorCodeUnavailable, true
	}
	if stderrs.Is(root, mongo.ErrClientDisconnected) || stderrs.Is(root, mongo.ErrNoDocuments) {
		if stderrs.Is(root, mongo.ErrNoDocuments) {
			return ErrorCodeNotFound, true
		}
		return ErrorCodeUnavailable, true
	}

	var we mongo.WriteException
	var bwe mongo.BulkWriteException
	var ce mongo.CommandError
	switch {
	case stderrs.As(root, &we), stderrs.As(root, &bwe), stderrs.As(root, &ce):
		return ErrorCodeDB, true
	}
	return ErrorCodeUnknown, false
}

// FromMongo wraps a mongo error with a mapped ErrorCode and message.
// If err is nil, returns nil
func FromMongo(err error, msg string) error {
	if err == nil {
		return nil
	}
	if code, ok := MongoErrorCode(err); ok {
		return Wrap(err, code, msg)
	}
	return Wrap(err, ErrorCodeDB, msg)
}

// IsRetryableMongo reports whether a mongo error represents a transient
// condition worth retrying (server selection, network resets, not-primary
// during elections). Duplicate keys are never retryable; callers treat them
// as converged writes instead
func IsRetryableMongo(err error) bool {
	if err == nil {
		return false
	}
	if stderrs.Is(err, context.Canceled) || stderrs.Is(err, context.DeadlineExceeded) {
		return false
	}

	root := Root(err)
	if mongo.IsDuplicateKeyError(root) {
		return false
	}
	if mongo.IsNetworkError(root) || mongo.IsTimeout(root) {
		return true
	}

	var ce mongo.CommandError
	if stderrs.As(root, &ce) {
		// NotWritablePrimary, InterruptedDueToReplStateChange, ShutdownInProgress
		switch ce.Code {
		case 10107, 11602, 91, 189, 13436:
			return true
		}
		return false
	}

	s := strings.ToLower(root.Error())
	switch {
	case strings.Contains(s, "server selection error"),
		strings.Contains(s, "connection reset"),
		strings.Contains(s, "socket was unexpectedly closed"):
		return true
	default:
		return false
	}
}
