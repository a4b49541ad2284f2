// Command tango-match hosts or joins one live Tango match over a TCP
// transport.Stream. It performs the handshake and then returns
// emuadapter.ErrNoCoreBackend: no emulator core is linked into this build,
// so session.Session.Run (round sequencing and rollback netplay) is not
// reached.
//
// Grounded on cmd/dendy's server/client split
// (_examples/alex-yte-dendy/cmd/dendy): one side listens, one side
// connects, both then run the identical sequence — here,
// session.Session.Handshake — and on the same bracketed-level
// log convention. github.com/spf13/cobra as used by jchadwick-xbslink-ng's
// link-bridge CLI (see cmd/tango-replay's doc comment on why no concrete
// call site survived retrieval for that repo).
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/cliffdevs/tango/internal/emuadapter"
	"github.com/cliffdevs/tango/internal/hooks"
	"github.com/cliffdevs/tango/internal/hooks/bn6"
	"github.com/cliffdevs/tango/internal/romfile"
	"github.com/cliffdevs/tango/internal/session"
	"github.com/cliffdevs/tango/internal/tick"
	"github.com/cliffdevs/tango/internal/transport"
)

// idleLocalInput is an inert session.LocalInput: it never presses
// anything. Real controller/keyboard capture is out of scope here for the
// same reason internal/session.LocalInput's doc comment gives — even the
// teacher's own cmd/dendy/server.go calls a w.UpdateJoystick() with no
// definition anywhere in the retrieved pack. This command stops after the
// handshake, so nothing here passes idleLocalInput to Session.Run.
type idleLocalInput struct{}

func (idleLocalInput) NextJoyflags() tick.Joyflags { return 0 }

func newRootCmd() *cobra.Command {
	var listenAddr string
	var connectAddr string
	var romPath string
	var matchType uint16

	cmd := &cobra.Command{
		Use:   "tango-match",
		Short: "Host or join a live Tango match",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (listenAddr == "") == (connectAddr == "") {
				return fmt.Errorf("exactly one of --listen or --connect is required")
			}

			id, err := romfile.Identify(romPath)
			if err != nil {
				return fmt.Errorf("identify rom: %w", err)
			}

			var stream transport.Stream
			if listenAddr != "" {
				log.Printf("[INFO] waiting for peer on %s...", listenAddr)
				stream, err = transport.ListenTCP(listenAddr)
			} else {
				log.Printf("[INFO] connecting to %s...", connectAddr)
				stream, err = transport.DialTCP(connectAddr)
			}
			if err != nil {
				return fmt.Errorf("establish transport: %w", err)
			}
			defer stream.Close()

			registry := hooks.NewRegistry()
			bn6.Register(registry)

			sess := session.New(session.Config{
				Stream:    stream,
				Registry:  registry,
				ROM:       session.ROMInfo{Code: id.Code, Revision: id.Revision, CRC32: id.CRC32},
				MatchType: matchType,
			})

			ctx := context.Background()

			if err := sess.Handshake(ctx); err != nil {
				return fmt.Errorf("handshake: %w", err)
			}

			log.Printf("[INFO] handshake complete: local seat %d", sess.LocalPlayerIndex())

			// A real core backend is spec.md §1's opaque external
			// collaborator (see cmd/tango-replay's romLoader and
			// emuadapter.ErrNoCoreBackend): this build stops at the
			// documented boundary rather than fabricating one.
			return fmt.Errorf("wire engines: %w", emuadapter.ErrNoCoreBackend)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (host a match)")
	cmd.Flags().StringVar(&connectAddr, "connect", "", "peer address (join a match)")
	cmd.Flags().StringVar(&romPath, "rom", "", "path to the GBA ROM file")
	cmd.Flags().Uint16Var(&matchType, "match-type", 1, "match type this side is willing to play")
	cmd.MarkFlagRequired("rom")

	return cmd
}

func main() {
	log.SetFlags(0)

	if err := newRootCmd().Execute(); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}
