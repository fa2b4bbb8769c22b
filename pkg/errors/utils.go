package errors

import (
	"fmt"
	"strings"
)

// Wrap creates a new error with the given code, wrapping cause with message.
func Wrap(code Code, cause error, message string) *Error {
	return New(code, message, cause)
}

// Wrapf creates a new error with the given code, wrapping cause with a formatted message.
func Wrapf(code Code, cause error, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...), cause)
}

// WithCause sets the cause on an existing error and returns it for chaining.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// Common error constructors for quick use without an explicit cause.
func Internal(message string) *Error     { return New(CommonInternal, message, nil) }
func NotFound(message string) *Error     { return New(CommonNotFound, message, nil) }
func Validation(message string) *Error   { return New(CommonValidation, message, nil) }
func Timeout(message string) *Error      { return New(CommonTimeout, message, nil) }
func Unauthorized(message string) *Error { return New(CommonUnauthorized, message, nil) }
func Forbidden(message string) *Error    { return New(CommonForbidden, message, nil) }
func Conflict(message string) *Error     { return New(CommonConflict, message, nil) }
func Unsupported(message string) *Error  { return New(CommonUnsupported, message, nil) }
func InvalidInput(message string) *Error { return New(CommonInvalidInput, message, nil) }
func AlreadyExists(message string) *Error {
	return New(CommonAlreadyExists, message, nil)
}

// IsError reports whether err is our typed error.
func IsError(err error) bool {
	_, ok := err.(*Error)
	return ok
}

// Is reports whether err is, or wraps, our typed error carrying the given code.
func Is(err error, code Code) bool {
	for err != nil {
		typed, ok := err.(*Error)
		if !ok {
			return false
		}
		if typed.Code.Equals(code) {
			return true
		}
		err = typed.Cause
	}
	return false
}

// GetCode returns the code string of err, or "" if err is not our Error type.
func GetCode(err error) string {
	if typed, ok := err.(*Error); ok {
		return typed.Code.String()
	}
	return ""
}

// FormatForLog renders an error (and its context, if any) for structured logging.
func FormatForLog(err error) string {
	typed, ok := err.(*Error)
	if !ok {
		return err.Error()
	}

	parts := []string{
		fmt.Sprintf("code=%s", typed.Code),
		fmt.Sprintf("message=%s", typed.Message),
	}

	if keys := typed.GetContextKeys(); len(keys) > 0 {
		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, typed.GetContext(k)))
		}
		parts = append(parts, fmt.Sprintf("context=[%s]", strings.Join(ctxParts, " ")))
	}

	if typed.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", typed.Cause))
	}

	return strings.Join(parts, " | ")
}

// PackageCode builds a Code from a package name and a reason, panicking if either
// half produces an invalid "package.name" string. Used by package-scope Code vars.
func PackageCode(pkg, reason string) Code {
	return MustNewCode(pkg + "." + reason)
}

// Per-domain-package code constructors, mirroring the shape of the common.* codes
// but namespaced to the replication engine's own components.
func IcebergCode(reason string) Code  { return PackageCode("iceberg", reason) }
func CatalogCode(reason string) Code  { return PackageCode("catalog", reason) }
func ParquetCode(reason string) Code  { return PackageCode("parquet", reason) }
func AvroCode(reason string) Code     { return PackageCode("avro", reason) }
func TableCode(reason string) Code    { return PackageCode("table", reason) }
func SyncCode(reason string) Code     { return PackageCode("sync", reason) }
func MergeCode(reason string) Code    { return PackageCode("merge", reason) }
func WatermarkCode(reason string) Code { return PackageCode("watermark", reason) }
func AppCode(reason string) Code      { return PackageCode("app", reason) }
