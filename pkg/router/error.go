package router

import (
	"encoding/json"
	"io"
)

type Error interface {
	error
	StatusCode() int
	Encode(w io.Writer) error
}

// Envelope is the body of every response: a status, a human readable
// message and the result as an array.
type Envelope struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    []any  `json:"data"`
}

// EnvelopeError is an Error written as an Envelope with empty data.
type EnvelopeError struct {
	Code    int
	Message string
}

func NewError(code int, message string) EnvelopeError {
	return EnvelopeError{
		Code:    code,
		Message: message,
	}
}

func (e EnvelopeError) StatusCode() int {
	return e.Code
}

func (e EnvelopeError) Error() string {
	return e.Message
}

func (e EnvelopeError) Encode(w io.Writer) error {
	return json.NewEncoder(w).Encode(Envelope{Status: e.Code, Message: e.Message, Data: []any{}})
}
