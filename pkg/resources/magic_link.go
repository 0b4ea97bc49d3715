package resources

import (
	"context"

	"github.com/wondertwin-ai/clerkflow/pkg/poller"
)

// StartMagicLinkParams configures a magic link flow.
type StartMagicLinkParams struct {
	// RedirectURL is where the emailed link sends the user once verified.
	RedirectURL string
	// EmailAddressID selects the address for sign-in flows; ignored elsewhere.
	EmailAddressID string
}

// MagicLinkFlow sends a magic link and waits for it to be opened. Start blocks
// until the verification settles, an error occurs or Cancel is called.
type MagicLinkFlow[R any] struct {
	poller *poller.Poller
	start  func(ctx context.Context, p *poller.Poller, params StartMagicLinkParams) (R, error)
}

func newMagicLinkFlow[R any](core *Core, start func(context.Context, *poller.Poller, StartMagicLinkParams) (R, error)) *MagicLinkFlow[R] {
	return &MagicLinkFlow[R]{poller: core.newPoller(), start: start}
}

// Start prepares the link and polls until it resolves. After Cancel, Start
// returns poller.ErrStopped; a flow cancelled before Start sends nothing.
func (f *MagicLinkFlow[R]) Start(ctx context.Context, params StartMagicLinkParams) (R, error) {
	if f.poller.Stopped() {
		var zero R
		return zero, poller.ErrStopped
	}
	return f.start(ctx, f.poller, params)
}

// Cancel stops polling. It is safe to call from any goroutine, more than once.
func (f *MagicLinkFlow[R]) Cancel() {
	f.poller.Stop()
}
