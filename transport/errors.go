package transport

import (
	"fmt"

	"github.com/duh-rpc/duh-go"
	v1 "github.com/duh-rpc/duh-go/proto/v1"
	"github.com/kapetan-io/errors"
	"google.golang.org/protobuf/proto"
)

// codedError holds the message and duh code shared by all the transport errors
type codedError struct {
	msg  string
	code int
}

func (e *codedError) Error() string {
	return e.msg
}

func (e *codedError) Code() int {
	return e.code
}

func (e *codedError) ProtoMessage() proto.Message {
	return &v1.Reply{
		Message:  e.msg,
		CodeText: duh.CodeText(e.code),
		Code:     int32(e.code),
	}
}

func (e *codedError) Details() map[string]string {
	return nil
}

func (e *codedError) Message() string {
	return e.msg
}

// -------------------------------------------------

// ErrRequestFailed is used to tell the client that the request was valid, but it failed for some reason.
type ErrRequestFailed struct {
	codedError
}

func NewRequestFailed(msg string, args ...any) *ErrRequestFailed {
	return &ErrRequestFailed{codedError{msg: fmt.Sprintf(msg, args...), code: duh.CodeRequestFailed}}
}

func (e *ErrRequestFailed) Is(target error) bool {
	var err *ErrRequestFailed
	return errors.As(target, &err)
}

var _ duh.Error = &ErrRequestFailed{}

// -------------------------------------------------

// ErrInvalidOption is used to indicate an option provided was invalid for some reason
type ErrInvalidOption struct {
	codedError
}

func NewInvalidOption(msg string, args ...any) *ErrInvalidOption {
	return &ErrInvalidOption{codedError{msg: fmt.Sprintf(msg, args...), code: duh.CodeBadRequest}}
}

func (e *ErrInvalidOption) Is(target error) bool {
	var err *ErrInvalidOption
	return errors.As(target, &err)
}

var _ duh.Error = &ErrInvalidOption{}

// -------------------------------------------------

// ErrRetryRequest is used to tell the client that the request was valid, the server did not encounter a
// failure, but the request did not succeed. The client should retry
type ErrRetryRequest struct {
	codedError
}

func NewRetryRequest(msg string, args ...any) *ErrRetryRequest {
	return &ErrRetryRequest{codedError{msg: fmt.Sprintf(msg, args...), code: duh.CodeRetryRequest}}
}

func (e *ErrRetryRequest) Is(target error) bool {
	var err *ErrRetryRequest
	return errors.As(target, &err)
}

var _ duh.Error = &ErrRetryRequest{}
