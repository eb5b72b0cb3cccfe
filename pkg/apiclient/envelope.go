package apiclient

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Envelope is the body every API response is wrapped in.
type Envelope struct {
	Status  int               `json:"status"`
	Message string            `json:"message"`
	Data    []json.RawMessage `json:"data"`
}

// Error is returned for any response whose status is 400 or above.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) StatusCode() int {
	return e.Status
}

type rawEnvelope struct {
	Status  *json.Number    `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// ReadEnvelope normalises a response body. A body that cannot be parsed is
// treated as an empty object, a missing status falls back to the HTTP status
// and data that is not an array becomes empty.
func ReadEnvelope(httpStatus int, body []byte) (*Envelope, error) {
	var raw rawEnvelope
	if err := json.Unmarshal(body, &raw); err != nil {
		raw = rawEnvelope{}
	}

	env := &Envelope{Status: httpStatus, Message: raw.Message}
	if raw.Status != nil {
		if n, err := raw.Status.Int64(); err == nil {
			env.Status = int(n)
		}
	}
	if env.Status == 0 {
		env.Status = http.StatusInternalServerError
	}
	if env.Message == "" {
		env.Message = fmt.Sprintf("HTTP %d", env.Status)
	}
	if err := json.Unmarshal(raw.Data, &env.Data); err != nil || env.Data == nil {
		env.Data = []json.RawMessage{}
	}

	if env.Status >= http.StatusBadRequest {
		return env, &Error{Status: env.Status, Message: env.Message}
	}
	return env, nil
}

// First decodes data[0] into v. It reports false when data is empty.
func (e *Envelope) First(v any) (bool, error) {
	if len(e.Data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(e.Data[0], v); err != nil {
		return false, fmt.Errorf("decode data: %w", err)
	}
	return true, nil
}

// All decodes every data element into a slice of T.
func All[T any](e *Envelope) ([]T, error) {
	out := make([]T, 0, len(e.Data))
	for i, d := range e.Data {
		var v T
		if err := json.Unmarshal(d, &v); err != nil {
			return nil, fmt.Errorf("decode data[%d]: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}
