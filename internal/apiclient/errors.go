package apiclient

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"

	"github.com/felixgeelhaar/techshelf/internal/domain"
)

var (
	// ErrNoRefreshToken is reported to the credential owner when a 401
	// arrives and there is nothing to refresh with.
	ErrNoRefreshToken = errors.New("no refresh token")

	// ErrNoCredentials means SetCredentials was never called.
	ErrNoCredentials = errors.New("no credential owner configured")

	errMissingAccess = errors.New("refresh response missing access token")
)

// serverError carries a 5xx response through the resilience wrappers so it
// counts as a failure there and can still be classified afterwards.
type serverError struct {
	resp *response
}

func (e *serverError) Error() string {
	return fmt.Sprintf("server returned status %d", e.resp.status)
}

// statusError converts a non-2xx response into a domain error carrying the
// server's message, if it sent one.
func statusError(resp *response) error {
	msg := extractMessage(resp.body)
	switch {
	case resp.status == http.StatusUnauthorized:
		return domain.NewAuthError(msg, resp.status, nil)
	case resp.status >= 500:
		return domain.NewTransientError(msg, resp.status, nil)
	default:
		return domain.NewBusinessError(msg, resp.status)
	}
}

// extractMessage pulls a human-readable message out of an error body.
// It prefers "error", then "detail", then "message", and finally joins
// per-field validation errors.
func extractMessage(body []byte) string {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return ""
	}
	res := gjson.ParseBytes(body)
	if !res.IsObject() {
		return firstMessage(res)
	}

	for _, key := range []string{"error", "detail", "message"} {
		if msg := firstMessage(res.Get(key)); msg != "" {
			return msg
		}
	}

	var parts []string
	res.ForEach(func(key, value gjson.Result) bool {
		msg := firstMessage(value)
		if msg == "" {
			return true
		}
		if label := fieldLabel(key.String()); label != "" {
			msg = label + ": " + msg
		}
		parts = append(parts, msg)
		return true
	})
	return strings.Join(parts, "; ")
}

func firstMessage(v gjson.Result) string {
	switch {
	case !v.Exists():
		return ""
	case v.Type == gjson.String:
		return strings.TrimSpace(v.String())
	case v.IsArray():
		for _, el := range v.Array() {
			if msg := firstMessage(el); msg != "" {
				return msg
			}
		}
	case v.IsObject():
		var msg string
		v.ForEach(func(_, el gjson.Result) bool {
			msg = firstMessage(el)
			return msg == ""
		})
		return msg
	}
	return ""
}

var fieldLabels = map[string]string{
	"non_field_errors": "",
	"password2":        "Password confirmation",
}

func fieldLabel(field string) string {
	if label, ok := fieldLabels[field]; ok {
		return label
	}
	label := strings.ReplaceAll(field, "_", " ")
	r := []rune(label)
	if len(r) == 0 {
		return ""
	}
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
