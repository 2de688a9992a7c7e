package session

import (
	"context"

	"github.com/TheKidThatCodes/ccbridge/codec"
	"github.com/TheKidThatCodes/ccbridge/types"
)

// Caller dispatches requests. *Session is the production implementation.
type Caller interface {
	Do(ctx context.Context, req Request) (types.Envelope, error)
	NewTempName() string
}

// Call encodes req, dispatches it, and decodes the reply with dec.
// This is the single generic entry point wrapper APIs are built on.
func Call[T any](ctx context.Context, c Caller, req Request, dec codec.Decoder[T]) (T, error) {
	env, err := c.Do(ctx, req)
	if err != nil {
		var zero T
		return zero, err
	}
	v, err := dec(env)
	if err != nil && types.IsTypeMismatch(err) {
		if s, ok := c.(*Session); ok {
			s.metrics.IncTypeMismatch()
		}
	}
	return v, err
}

// CallFunc calls fn with args as an eval-class call and decodes the result.
func CallFunc[T any](ctx context.Context, c Caller, fn string, dec codec.Decoder[T], args ...any) (T, error) {
	return Call(ctx, c, Request{Func: fn, Args: args, Class: codec.ClassEval}, dec)
}

// Verify Session implements Caller.
var _ Caller = (*Session)(nil)
