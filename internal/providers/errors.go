package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type ErrorType string

const (
	ErrorQuota     ErrorType = "quota"
	ErrorRate      ErrorType = "rate"
	ErrorTransient ErrorType = "transient"
	ErrorPermanent ErrorType = "permanent"
	ErrorContext   ErrorType = "context"
)

// StatusError is a non-2xx reply from a provider's HTTP API.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s chat error %d: %s", e.Provider, e.Code, e.Body)
}

func ClassifyError(err error) ErrorType {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTransient
	}
	body := strings.ToLower(err.Error())
	var se *StatusError
	if errors.As(err, &se) {
		body = strings.ToLower(se.Body)
		switch {
		case se.Code == http.StatusTooManyRequests && strings.Contains(body, "quota"):
			return ErrorQuota
		case se.Code == http.StatusTooManyRequests:
			return ErrorRate
		case se.Code == http.StatusRequestEntityTooLarge:
			return ErrorContext
		case se.Code >= 500:
			return ErrorTransient
		}
	}
	switch {
	case strings.Contains(body, "quota"), strings.Contains(body, "credit"):
		return ErrorQuota
	case strings.Contains(body, "rate"), strings.Contains(body, "429"):
		return ErrorRate
	case strings.Contains(body, "context_length"), strings.Contains(body, "too long"):
		return ErrorContext
	case strings.Contains(body, "timeout"), strings.Contains(body, "temporarily"), strings.Contains(body, "unavailable"):
		return ErrorTransient
	default:
		return ErrorPermanent
	}
}

// Retryable reports whether another provider may succeed where err failed.
func Retryable(err error) bool {
	t := ClassifyError(err)
	return t != "" && t != ErrorPermanent
}
