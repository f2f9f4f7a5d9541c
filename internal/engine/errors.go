package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/scenekeeper/internal/remote"
)

// ErrorKind is the failure taxonomy the engine acts on.
//
//   - KindQuiescent: nothing is configured; skip silently.
//   - KindAuth: the token was rejected; tell the user once, never retry.
//   - KindTransport: network or response failure; log, scope is one call.
//   - KindValidation: a document is not a usable scene; skip it.
type ErrorKind int

const (
	KindTransport ErrorKind = iota
	KindQuiescent
	KindAuth
	KindValidation
)

func (k ErrorKind) String() string {
	switch k {
	case KindQuiescent:
		return "quiescent"
	case KindAuth:
		return "auth"
	case KindValidation:
		return "validation"
	}
	return "transport"
}

// ErrNoIdentity is returned when no identity can be resolved because no
// credential is configured.
var ErrNoIdentity = errors.New("no identity available")

// ValidationError reports a document that is not a usable scene.
type ValidationError struct {
	Path   string
	Reason SkipReason
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Reason.Message())
}

// KindOf classifies an error.
func KindOf(err error) ErrorKind {
	var ve *ValidationError
	switch {
	case errors.Is(err, ErrNoIdentity), errors.Is(err, remote.ErrNoCredential):
		return KindQuiescent
	case remote.IsUnauthorized(err):
		return KindAuth
	case errors.As(err, &ve):
		return KindValidation
	}
	return KindTransport
}

// Notice is a user-facing message. Only Auth notices are raised during
// automatic passes; Validation notices only for single-document requests
// the user made directly.
type Notice struct {
	Kind    ErrorKind
	Op      string
	Path    string
	Message string
}

// Notifier delivers notices to the user.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

// Notify implements Notifier.
func (f NotifierFunc) Notify(n Notice) { f(n) }

type discardNotifier struct{}

func (discardNotifier) Notify(Notice) {}

// AuthNotice builds the notice raised for a rejected token at call site op.
func AuthNotice(op string) Notice {
	return Notice{
		Kind:    KindAuth,
		Op:      op,
		Message: fmt.Sprintf("The bot rejected the API token while trying to %s. Update the token in your configuration.", op),
	}
}

// isCancelled reports whether err is a context cancellation.
func isCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
