// Package replayview is an optional, read-only frame-buffer viewer for
// cmd/tango-replay --view. Adapted from ui.Window
// (_examples/alex-yte-dendy/ui/window.go): same render-texture-plus-
// overlay-text approach over github.com/gen2brain/raylib-go/raylib, but
// trimmed to read-only — the replayer drives input from the replay file,
// never from a controller, so HandleHotKeys/the Zapper/Input/Mute/Reset/
// Resync delegates have no role here and are dropped rather than carried
// along unused.
package replayview

import (
	"fmt"
	"image/color"

	rl "github.com/gen2brain/raylib-go/raylib"
)

// GBA's native frame dimensions. spec.md places the emulator core (and so
// its video output resolution) out of scope as an opaque collaborator;
// these are the real GBA LCD dimensions, used only to size the viewport.
const (
	FrameWidth  = 240
	FrameHeight = 160
)

// View is a minimal, read-only window onto the frames the replayer's
// emulator core emits via emuadapter.Core.OnFrame.
type View struct {
	ShowTick bool
	Tick     uint32

	viewport rl.RenderTexture2D
	scale    int
	width    int
	height   int
}

// Open creates the window. verbose controls raylib's own trace logging,
// same convention as ui.CreateWindow.
func Open(scale int, verbose bool) *View {
	if !verbose {
		rl.SetTraceLogLevel(rl.LogNone)
	}

	width := FrameWidth * scale
	height := FrameHeight * scale

	rl.InitWindow(int32(width), int32(height), "Tango Replay")
	rl.SetExitKey(0)

	viewport := rl.LoadRenderTexture(FrameWidth, FrameHeight)
	rl.SetTextureFilter(viewport.Texture, rl.FilterPoint)

	return &View{
		viewport: viewport,
		scale:    scale,
		width:    width,
		height:   height,
	}
}

// Close releases the window.
func (v *View) Close() {
	rl.CloseWindow()
}

// ShouldClose reports whether the user asked to close the window. Unlike
// ui.Window there is no shouldClose-by-hotkey path: a replay viewer has no
// input delegates to wire a quit hotkey to, so this only ever reflects
// the OS-level close request.
func (v *View) ShouldClose() bool {
	return rl.WindowShouldClose()
}

func (v *View) drawTextWithShadow(text string, x, y, size int32, colour rl.Color) {
	rl.DrawText(text, x+1, y+1, size, rl.Black)
	rl.DrawText(text, x, y, size, colour)
}

// Render pushes one decoded frame onto the viewport and draws it scaled to
// the window, with an optional tick-counter overlay. frame must contain
// FrameWidth*FrameHeight RGBA pixels, row-major, matching whatever decode
// emuadapter.Core.OnFrame's callback performs on the raw GBA frame buffer.
func (v *View) Render(frame []color.RGBA) {
	rl.UpdateTexture(v.viewport.Texture, frame)

	rl.BeginDrawing()
	rl.ClearBackground(rl.Black)

	rl.DrawTexturePro(
		v.viewport.Texture,
		rl.Rectangle{Width: float32(v.viewport.Texture.Width), Height: float32(v.viewport.Texture.Height)},
		rl.Rectangle{Width: float32(v.width), Height: float32(v.height)},
		rl.Vector2{X: 0, Y: 0},
		0,
		rl.White,
	)

	if v.ShowTick {
		label := fmt.Sprintf("tick %d", v.Tick)
		v.drawTextWithShadow(label, 6, 5, 10, rl.White)
	}

	rl.EndDrawing()
}
