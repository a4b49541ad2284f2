// Command tango-replay is the replayer CLI of spec.md §6: re-execute a
// recorded replay file tick-for-tick and report the result.
//
// Grounded on cmd/dendy's bracketed-level log convention
// (_examples/alex-yte-dendy/cmd/dendy/server.go) and
// github.com/spf13/cobra as used by jchadwick-xbslink-ng's link-bridge
// CLI (no concrete cobra call site survived retrieval for that repo — its
// go.mod carries cobra only transitively via lefthook — so the command
// wiring below follows ordinary cobra convention rather than a grounded
// example; see DESIGN.md).
package main

import (
	"context"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/cliffdevs/tango/internal/emuadapter"
	"github.com/cliffdevs/tango/internal/hooks"
	"github.com/cliffdevs/tango/internal/hooks/bn6"
	"github.com/cliffdevs/tango/internal/replayer"
	"github.com/cliffdevs/tango/internal/romfile"
)

// romLoader implements replayer.Loader against a real cartridge file:
// it identifies the ROM (code/revision/crc32) but cannot construct a Core
// without a real GBA core backend linked in (emuadapter.ErrNoCoreBackend).
type romLoader struct{}

func (romLoader) Load(romPath string) (emuadapter.Core, replayer.ROMInfo, error) {
	id, err := romfile.Identify(romPath)
	if err != nil {
		return nil, replayer.ROMInfo{}, err
	}

	info := replayer.ROMInfo{Code: id.Code, Revision: id.Revision, CRC32: id.CRC32}

	return nil, info, emuadapter.ErrNoCoreBackend
}

func newRootCmd() *cobra.Command {
	var remote bool
	var view bool
	var scale int
	var predictTail bool

	cmd := &cobra.Command{
		Use:   "tango-replay ROM_PATH REPLAY_PATH",
		Short: "Re-execute a recorded Tango replay",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			romPath, replayPath := args[0], args[1]

			registry := hooks.NewRegistry()
			bn6.Register(registry)

			opts := replayer.Options{Remote: remote, View: view, ViewScale: scale, PredictTail: predictTail}

			code, result, err := replayer.Run(context.Background(), romLoader{}, registry, romPath, replayPath, opts)
			if err != nil {
				log.Printf("[ERROR] replay ended with %s: %v", code, err)
			} else {
				log.Printf("[INFO] replay ended clean, result=%s", result)
			}

			os.Exit(int(code))
			return nil
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false, "view the round from the remote's seat")
	cmd.Flags().BoolVar(&view, "view", false, "open a raylib window showing the replayed frames")
	cmd.Flags().IntVar(&scale, "scale", 2, "window scale factor when --view is set")
	cmd.Flags().BoolVar(&predictTail, "predict-tail", false, "predict further ticks past a replay truncated before its round ended")

	return cmd
}

func main() {
	log.SetFlags(0)

	if err := newRootCmd().Execute(); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}
