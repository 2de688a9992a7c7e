// Package iox provides cleanup helpers for closers.
package iox

import (
	"context"
	"errors"
	"io"
)

// ContextCloser is closed with a context, like remote handles.
type ContextCloser interface {
	Close(ctx context.Context) error
}

// DiscardClose closes c and discards the error. For defers where the
// close error cannot be acted on:
//
//	defer iox.DiscardClose(resp.Body)
func DiscardClose(c io.Closer) { _ = c.Close() }

// CloseFunc returns a func that closes c, for t.Cleanup:
//
//	t.Cleanup(iox.CloseFunc(sess))
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// JoinClose closes c and joins its error into *err:
//
//	defer iox.JoinClose(&err, f)
func JoinClose(err *error, c io.Closer) {
	*err = errors.Join(*err, c.Close())
}

// JoinCloseContext is JoinClose for context closers. The close runs even
// when ctx is already done.
func JoinCloseContext(ctx context.Context, err *error, c ContextCloser) {
	*err = errors.Join(*err, c.Close(context.WithoutCancel(ctx)))
}
