package views

import (
	"errors"
	"net/http"
	"strings"

	"github.com/tyemirov/trainee/internal/apiclient"
	"github.com/tyemirov/trainee/internal/session"
)

const (
	messageSessionExpired   = "Your session has expired. Please log in again."
	messageUnreachable      = "Could not reach the server. Please check your connection and try again."
	messageForbidden        = "You do not have permission to perform this action."
	messageNotFound         = "The requested item was not found."
	messageServerFailure    = "The server encountered an error. Please try again later."
	messageInvalidLogin     = "Invalid username or password."
	messageInvalidSession   = "The server returned an unusable session. Please try again."
	messageLoginRequired    = "Please log in to continue."
	messageAdminRequired    = "This page is only available to administrators."
	messageUnexpectedReply  = "The server sent an unexpected response."
	messageSomethingWrong   = "Something went wrong. Please try again."
	messageSectionNotFound  = "This section does not exist."
	messageValidationFailed = "Please correct the highlighted fields."
)

// Message renders err as text for the user. It returns "" for nil and for
// ErrClosed.
func Message(err error) string {
	if message, known := Explain(err); known {
		return message
	}
	return messageSomethingWrong
}

// Explain is Message that also reports whether err was recognised. An
// unrecognised error yields "" and false.
func Explain(err error) (string, bool) {
	if err == nil || errors.Is(err, ErrClosed) {
		return "", true
	}

	var redirect *Redirect
	if errors.As(err, &redirect) {
		if redirect.Route == RouteLogin {
			return messageLoginRequired, true
		}
		return messageAdminRequired, true
	}

	var validationErr *apiclient.ValidationError
	if errors.As(err, &validationErr) {
		return validationMessage(validationErr), true
	}

	var refreshErr *apiclient.RefreshError
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return messageInvalidLogin, true
	case errors.Is(err, ErrSectionNotFound):
		return messageSectionNotFound, true
	case errors.Is(err, session.ErrLoginTokenInvalid):
		return messageInvalidSession, true
	case errors.As(err, &refreshErr), errors.Is(err, apiclient.ErrUnauthorized):
		return messageSessionExpired, true
	case errors.Is(err, apiclient.ErrDecodeResponse):
		return messageUnexpectedReply, true
	}

	var transportErr *apiclient.TransportError
	if errors.As(err, &transportErr) {
		return messageUnreachable, true
	}

	var statusErr *apiclient.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.Status == http.StatusForbidden:
			return messageForbidden, true
		case statusErr.Status == http.StatusNotFound:
			return messageNotFound, true
		case statusErr.Status >= http.StatusInternalServerError:
			return messageServerFailure, true
		case statusErr.Message != "":
			return statusErr.Message, true
		}
		return messageSomethingWrong, true
	}
	return "", false
}

// FieldMessages returns the per-field messages of a validation error, or nil.
func FieldMessages(err error) map[string][]string {
	var validationErr *apiclient.ValidationError
	if !errors.As(err, &validationErr) {
		return nil
	}
	return validationErr.Fields
}

func validationMessage(validationErr *apiclient.ValidationError) string {
	if messages := validationErr.Fields[apiclient.NonFieldErrorsKey]; len(messages) > 0 {
		return strings.Join(messages, " ")
	}
	names := validationErr.FieldNames()
	if len(names) == 1 {
		return strings.Join(validationErr.Fields[names[0]], " ")
	}
	if len(names) == 0 && validationErr.Message != "" {
		return validationErr.Message
	}
	return messageValidationFailed
}
