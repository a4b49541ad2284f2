package match

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cliffdevs/tango/internal/round"
)

// terminalPollInterval paces waitForTerminal's check of a primary engine
// that another goroutine is driving (internal/session's writeLoop, via
// round.Engine.AddLocalInputAndFastForward). Small enough that RunRound
// returns promptly once the primary reaches a terminal phase.
const terminalPollInterval = 2 * time.Millisecond

// RunRound drives the shadow engine (if non-nil) to a terminal phase and
// waits for the primary to reach one, returning the primary's recorded
// result. The primary is never stepped here: spec.md §4.4 has the engine
// advance "when a new local input arrives", so internal/session's
// writeLoop drives it directly via AddLocalInputAndFastForward, and
// stepping it again from a second goroutine here would race on Core.Step
// (spec.md §5). The shadow has no such per-input call site — nothing
// local ever arrives for it to push on — so it's still pulled every tick
// the classic way. Both goroutines share golang.org/x/sync/errgroup
// (spec.md §5: "parallel OS threads with cooperative handoff at trap
// points"); the first to return an error cancels gctx, which the other
// observes at its next check. A goroutine whose engine reaches Ended
// returns nil and cancels nothing: RunRound then waits for the other.
func (c *Controller) RunRound(ctx context.Context, primary *round.Engine, shadow *round.Shadow) (round.Result, error) {
	ctx, cancelAll := context.WithCancel(ctx)
	defer cancelAll()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.waitForTerminal(gctx, primary)
	})

	if shadow != nil {
		g.Go(func() error {
			return c.driveToTerminal(gctx, shadow.Engine)
		})
	}

	if err := g.Wait(); err != nil {
		return round.ResultUndecided, err
	}

	if cancelled, err := c.Cancelled(); cancelled {
		return round.ResultUndecided, err
	}

	return primary.State.LastResult, nil
}

// waitForTerminal polls e's phase until it reaches Ended or Cancelled, or
// the Controller itself is cancelled by the other goroutine, without ever
// stepping e — some other goroutine owns that job (see RunRound).
func (c *Controller) waitForTerminal(ctx context.Context, e *round.Engine) error {
	ticker := time.NewTicker(terminalPollInterval)
	defer ticker.Stop()

	for {
		if cancelled, err := c.Cancelled(); cancelled {
			if err == nil {
				err = fmt.Errorf("match: cancelled")
			}
			e.State.Cancel(err)
			return nil
		}

		switch e.State.Phase {
		case round.PhaseEnded:
			return nil
		case round.PhaseCancelled:
			c.Cancel(e.State.PendingDesync)
			return e.State.PendingDesync
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// driveToTerminal calls RunOneTick (reconciling any speculative rollback
// first) until e reaches Ended or Cancelled, or the Controller itself has
// been cancelled by the other goroutine (e.g. the shadow detecting
// divergence cancels the whole match, per spec.md §5: "Any sticky error
// recorded by the shadow... causes the same cancellation at the next
// primary tick").
func (c *Controller) driveToTerminal(ctx context.Context, e *round.Engine) error {
	for {
		if cancelled, err := c.Cancelled(); cancelled {
			if err == nil {
				err = fmt.Errorf("match: cancelled")
			}
			e.State.Cancel(err)
			return nil
		}

		switch e.State.Phase {
		case round.PhaseEnded:
			return nil
		case round.PhaseCancelled:
			c.Cancel(e.State.PendingDesync)
			return e.State.PendingDesync
		}

		if err := e.ReconcileSpeculation(ctx); err != nil {
			c.Cancel(err)
			return err
		}

		if err := e.RunOneTick(ctx); err != nil {
			c.Cancel(err)
			return err
		}
	}
}
