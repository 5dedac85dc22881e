package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

var (
	// ErrUnauthorized indicates the API rejected the request's credentials and
	// the refresh protocol could not recover.
	ErrUnauthorized = errors.New("apiclient.unauthorized")
	// ErrDecodeResponse indicates a successful response body was not the expected JSON.
	ErrDecodeResponse = errors.New("apiclient.decode_response")
	// ErrMissingBaseURL indicates the client was configured without an API base URL.
	ErrMissingBaseURL = errors.New("apiclient.missing_base_url")
	// ErrMissingSession indicates the client was configured without a session.
	ErrMissingSession = errors.New("apiclient.missing_session")
)

// NonFieldErrorsKey is the field name servers use for errors not tied to one field.
const NonFieldErrorsKey = "non_field_errors"

// ValidationError carries field-level messages from a rejected request. A
// Status of zero means the input was rejected locally before any request.
type ValidationError struct {
	Status  int
	Message string
	Fields  map[string][]string
}

func (validationError *ValidationError) Error() string {
	var builder strings.Builder
	builder.WriteString("apiclient.validation")
	if validationError.Status != 0 {
		fmt.Fprintf(&builder, " (status %d)", validationError.Status)
	}
	if validationError.Message != "" {
		builder.WriteString(": ")
		builder.WriteString(validationError.Message)
	}
	for _, field := range validationError.FieldNames() {
		fmt.Fprintf(&builder, "; %s: %s", field, strings.Join(validationError.Fields[field], " "))
	}
	return builder.String()
}

// FieldNames returns the names of fields with messages in sorted order.
func (validationError *ValidationError) FieldNames() []string {
	names := make([]string, 0, len(validationError.Fields))
	for name := range validationError.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TransportError wraps a failure to reach the API.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (transportError *TransportError) Error() string {
	return fmt.Sprintf("apiclient.transport: %s %s: %v", transportError.Method, transportError.Path, transportError.Err)
}

func (transportError *TransportError) Unwrap() error {
	return transportError.Err
}

// StatusError reports a response status the client does not treat as
// validation or authentication, such as 403, 404 or 5xx.
type StatusError struct {
	Status  int
	Method  string
	Path    string
	Message string
}

func (statusError *StatusError) Error() string {
	if statusError.Message == "" {
		return fmt.Sprintf("apiclient.status: %s %s: %d %s", statusError.Method, statusError.Path, statusError.Status, http.StatusText(statusError.Status))
	}
	return fmt.Sprintf("apiclient.status: %s %s: %d %s", statusError.Method, statusError.Path, statusError.Status, statusError.Message)
}

// RefreshError reports that a 401 could not be recovered because exchanging
// the refresh token failed. The session has been ended.
type RefreshError struct {
	Err error
}

func (refreshError *RefreshError) Error() string {
	return fmt.Sprintf("apiclient.refresh_failed: %v", refreshError.Err)
}

func (refreshError *RefreshError) Unwrap() error {
	return refreshError.Err
}

// errorEnvelope covers the error bodies the API produces: DRF field maps,
// {"detail": "..."}, {"error": "..."} and the {"error": true, "message", "details"} wrapper.
type errorEnvelope struct {
	Message string
	Detail  string
	Fields  map[string][]string
}

func parseErrorBody(body []byte) errorEnvelope {
	var envelope errorEnvelope
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		envelope.Detail = strings.TrimSpace(string(body))
		if len(envelope.Detail) > 200 {
			envelope.Detail = envelope.Detail[:200]
		}
		return envelope
	}

	if errorFlag, ok := raw["error"]; ok {
		var wrapped bool
		if json.Unmarshal(errorFlag, &wrapped) == nil && wrapped {
			envelope.Message = readString(raw["message"])
			if details, ok := raw["details"]; ok {
				var inner map[string]json.RawMessage
				if json.Unmarshal(details, &inner) == nil {
					raw = inner
				} else {
					raw = map[string]json.RawMessage{}
				}
			} else {
				raw = map[string]json.RawMessage{}
			}
		} else {
			envelope.Detail = readString(errorFlag)
			delete(raw, "error")
		}
	}
	if detail, ok := raw["detail"]; ok {
		if text := readString(detail); text != "" {
			envelope.Detail = text
		}
		delete(raw, "detail")
	}
	if message, ok := raw["message"]; ok && envelope.Message == "" {
		envelope.Message = readString(message)
		delete(raw, "message")
	}

	for name, value := range raw {
		messages := readMessages(value)
		if len(messages) == 0 {
			continue
		}
		if envelope.Fields == nil {
			envelope.Fields = make(map[string][]string)
		}
		envelope.Fields[name] = messages
	}
	return envelope
}

func (envelope errorEnvelope) text() string {
	switch {
	case envelope.Detail != "":
		return envelope.Detail
	default:
		return envelope.Message
	}
}

func readString(raw json.RawMessage) string {
	var text string
	if json.Unmarshal(raw, &text) == nil {
		return text
	}
	return ""
}

func readMessages(raw json.RawMessage) []string {
	var single string
	if json.Unmarshal(raw, &single) == nil {
		if single == "" {
			return nil
		}
		return []string{single}
	}
	var list []json.RawMessage
	if json.Unmarshal(raw, &list) == nil {
		messages := make([]string, 0, len(list))
		for _, item := range list {
			if text := readString(item); text != "" {
				messages = append(messages, text)
			}
		}
		return messages
	}
	return nil
}

func isValidationStatus(status int) bool {
	return status == http.StatusBadRequest || status == http.StatusConflict || status == http.StatusUnprocessableEntity
}

func errorFromResponse(method string, path string, status int, body []byte) error {
	envelope := parseErrorBody(body)
	switch {
	case status == http.StatusUnauthorized:
		if detail := envelope.text(); detail != "" {
			return fmt.Errorf("%w: %s", ErrUnauthorized, detail)
		}
		return ErrUnauthorized
	case isValidationStatus(status):
		message := envelope.Detail
		if message == "" {
			message = envelope.Message
		}
		return &ValidationError{Status: status, Message: message, Fields: envelope.Fields}
	default:
		return &StatusError{Status: status, Method: method, Path: path, Message: envelope.text()}
	}
}
