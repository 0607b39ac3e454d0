// Package ingesterr defines the closed error taxonomy from the ingestion
// core's error handling design: each sentinel names a raise condition and
// callers branch on it with errors.Is to apply the matching policy (log
// and drop, raise to caller, or clear component state).
package ingesterr

import "errors"

var (
	// ErrPayloadJSONInvalid: UTF-8 decode or JSON parse failed.
	ErrPayloadJSONInvalid = errors.New("ingest: payload is not valid JSON")

	// ErrPayloadSchemaInvalid: a validator check failed (type, range,
	// regex, or closed-set membership).
	ErrPayloadSchemaInvalid = errors.New("ingest: payload failed schema validation")

	// ErrPropertyConflict: a (path, index) uniqueness violation on
	// property registration. Policy: skip caching the record, no
	// un-registration.
	ErrPropertyConflict = errors.New("ingest: property registration conflicts with an existing path or index")

	// ErrPropertyInvalid: lookup miss on the set-publish path.
	ErrPropertyInvalid = errors.New("ingest: property is not registered")

	// ErrPropertyAccess: set attempted on a non-settable property.
	ErrPropertyAccess = errors.New("ingest: property is not settable")

	// ErrPropertyFormat: pack/unpack type mismatch or length overflow.
	ErrPropertyFormat = errors.New("ingest: property value does not match its registered format")

	// ErrIncorrectValueCount: a composite value has the wrong arity.
	ErrIncorrectValueCount = errors.New("ingest: value has an incorrect number of fields")

	// ErrCacheError: the cache implementation failed.
	ErrCacheError = errors.New("ingest: registration cache operation failed")

	// ErrLockFailed: the multi-lock helper could not acquire a lock.
	ErrLockFailed = errors.New("ingest: failed to acquire component lock")

	// ErrUnknownAPIVersion: identity announced an unsupported version.
	ErrUnknownAPIVersion = errors.New("ingest: unsupported api version")
)
