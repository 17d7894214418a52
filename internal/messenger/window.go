package messenger

import (
	"context"

	"github.com/aelexs/embedded-checkout/pkg/protocol"
)

// Target is a window that accepts posted messages. Delivery is at most once;
// an error means the message was not handed to the transport.
type Target interface {
	PostMessage(ctx context.Context, msg protocol.OutboundMessage, targetOrigin string) error
}

// Window describes where the client sits in the window hierarchy.
type Window interface {
	// Parent returns the embedding window. ok is false when the client is
	// top-level, i.e. its parent is itself.
	Parent() (t Target, ok bool)
	// Opener returns the window that opened this one, if any.
	Opener() (t Target, ok bool)
}

// StaticWindow is a Window with fixed targets. A nil target is absent.
type StaticWindow struct {
	ParentTarget Target
	OpenerTarget Target
}

func (w StaticWindow) Parent() (Target, bool) { return w.ParentTarget, w.ParentTarget != nil }
func (w StaticWindow) Opener() (Target, bool) { return w.OpenerTarget, w.OpenerTarget != nil }
