// Package api decodes checkout API envelopes on top of the refresh
// coordinator. It never mutates the session except through ApplyVerification
// on a successful verification call.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aelexs/embedded-checkout/internal/refresh"
	"github.com/aelexs/embedded-checkout/internal/session"
	"github.com/aelexs/embedded-checkout/pkg/protocol"
)

// Doer sends one request. *refresh.Coordinator satisfies it through Do for
// authenticated calls; Public adapts DoPublic.
type Doer interface {
	Do(ctx context.Context, path string, opts refresh.RequestOptions) (*refresh.Response, error)
}

// Public adapts a coordinator to Doer for unauthenticated calls.
type Public struct {
	*refresh.Coordinator
}

func (p Public) Do(ctx context.Context, path string, opts refresh.RequestOptions) (*refresh.Response, error) {
	return p.DoPublic(ctx, path, opts)
}

// RemoteError is a well-formed envelope with success=false.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote error (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("remote error (status %d): %s", e.StatusCode, e.Message)
}

// StatusError is a non-2xx response whose body is not an envelope.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// Call sends the request through d and decodes the envelope. It returns the
// data on success (nil when the remote sent none), a *RemoteError when the
// envelope reports failure, a *StatusError for a non-2xx status without an
// envelope and an error wrapping domain.ErrInvalidEnvelope for a malformed
// 2xx body. Errors from d pass through unchanged.
func Call[T any](ctx context.Context, d Doer, path string, opts refresh.RequestOptions) (*T, error) {
	resp, err := d.Do(ctx, path, opts)
	if err != nil {
		return nil, err
	}

	env, decodeErr := protocol.DecodeEnvelope[T](resp.Body)
	if !resp.OK() {
		if decodeErr == nil && !env.Success {
			return nil, &RemoteError{StatusCode: resp.StatusCode, Message: env.ErrorMessage()}
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: resp.Body}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%s: %w", path, decodeErr)
	}
	if !env.Success {
		return nil, &RemoteError{StatusCode: resp.StatusCode, Message: env.ErrorMessage()}
	}
	return env.Data, nil
}

// JSON builds request options carrying v as a JSON body.
func JSON(method string, v any) (refresh.RequestOptions, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return refresh.RequestOptions{}, fmt.Errorf("encode request body: %w", err)
	}
	return refresh.RequestOptions{
		Method: method,
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   b,
	}, nil
}

// VerificationRecorder is the part of session.Store that records a
// verification outcome.
type VerificationRecorder interface {
	ApplyVerification(ctx context.Context, v session.Verification) error
}

// Verify posts payload to the verification endpoint without a bearer token
// and records the returned token and inApp flag in the session. The silent
// refresh credential set by the response lands in the client's cookie jar.
func Verify(ctx context.Context, d Doer, rec VerificationRecorder, path string, payload any) error {
	opts, err := JSON(http.MethodPost, payload)
	if err != nil {
		return err
	}

	data, err := Call[protocol.VerificationData](ctx, d, path, opts)
	if err != nil {
		return err
	}
	if data == nil || data.AccessToken == "" {
		return &RemoteError{StatusCode: http.StatusOK, Message: "verification returned no token"}
	}

	return rec.ApplyVerification(ctx, session.Verification{
		AccessToken: data.AccessToken,
		InApp:       data.InApp,
	})
}
