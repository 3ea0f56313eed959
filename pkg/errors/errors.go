// Package errors provides coded, structured errors for the query engine.
//
// Codes follow a domain.operation.reason layout so callers and the HTTP
// layer can classify failures without string matching on messages.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeQueryParseSyntax        Code = "query.parse.syntax"
	CodeQueryTranslateInvalid   Code = "query.translate.invalid"
	CodeQueryKindUnsupported    Code = "query.kind.unsupported"
	CodeQueryEvaluateInvalid    Code = "query.evaluate.invalid"
	CodeQueryFormatUnsupported  Code = "query.format.unsupported"
	CodeQueryTemplateInvalid    Code = "query.template.invalid"
	CodeStoreTripleInvalidInput Code = "store.triple.invalid_input"
	CodeDatasetLoadFailure      Code = "dataset.load.failure"
	CodeDatasetFormatInvalid    Code = "dataset.format.invalid_format"
	CodeDatasetWatchFailure     Code = "dataset.watch.failure"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeServerRequestInvalid   Code = "server.request.invalid"
	CodeServerAuthUnauthorized Code = "server.auth.unauthorized"
	CodeServerInternalFailure  Code = "server.internal.failure"
	CodeServerStartFailure     Code = "server.start.failure"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

// CodeOf returns the code attached to err, or "" for uncoded errors.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

// FieldsOf returns the structured context attached to err.
func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// IsSyntaxError reports whether err came from the query parser.
func IsSyntaxError(err error) bool {
	return HasCode(err, CodeQueryParseSyntax)
}

// IsTranslationError reports whether err came from the algebra translator.
func IsTranslationError(err error) bool {
	return HasCode(err, CodeQueryTranslateInvalid)
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "syntax" || r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format" || r == "unsupported"
}

func IsUnauthorized(err error) bool {
	return reason(CodeOf(err)) == "unauthorized"
}

// HTTPStatus maps an error to the status code the API layer responds with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsUnauthorized(err):
		return http.StatusUnauthorized
	case IsInvalidInput(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func Join(errs ...error) error {
	joined := stderrors.Join(errs...)
	if joined == nil {
		return nil
	}
	return oops.Code(CodeServerInternalFailure).Wrap(joined)
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
