// Package bn6 is a concrete, exercised implementation of hooks.Primitives.
// It is deliberately NOT a claim about real Mega Man Battle Network 6 ROM
// offsets or memory layout: spec.md §1 explicitly places "per-cartridge
// offset tables" out of scope. The addresses and RAM offsets below are
// placeholder constants documented as such, chosen only to give
// internal/hooks' contract and internal/round's engine a real, tested
// title to drive end to end.
package bn6

import (
	"encoding/binary"

	"github.com/cliffdevs/tango/internal/emuadapter"
	"github.com/cliffdevs/tango/internal/hooks"
	"github.com/cliffdevs/tango/internal/tick"
)

// Placeholder ROM addresses. Real Tango titles pull these from a per-ROM
// offset table (out of scope here); a single fixed set is enough to
// exercise the hooks.Table/round.Engine contract.
const (
	addrMainReadJoyflags          = 0x0800_1000
	addrHandleInputSendAndReceive = 0x0800_1040
	addrRoundStartRet             = 0x0800_1080
	addrRoundEndEntry1            = 0x0800_10c0
	addrRoundEndEntry2            = 0x0800_10c8
	addrRoundCallJumpTableRet     = 0x0800_1100
	addrCommMenuInitRet           = 0x0800_1140
	addrLinkIsP2Ret               = 0x0800_1180
	addrSetWin                    = 0x0800_11c0
	addrSetLoss                   = 0x0800_11c4
	addrDamageJudgeSetWin         = 0x0800_1200
	addrDamageJudgeSetLoss        = 0x0800_1204
	addrDamageJudgeSetDraw        = 0x0800_1208

	addrSkipLogoPatch    = 0x0000_00b4
	addrUnmaskSRAM       = 0x0000_00c0
	addrLinkingFlag      = 0x0200_0010 // 1 byte: nonzero while linking.
	addrRxPacketLocal    = 0x0200_1000 // fixed-length packet buffers.
	addrRxPacketRemote   = 0x0200_1100
	addrTxPacket         = 0x0200_1200
	addrRNGState         = 0x0200_0004 // 4-byte LCG state cartridges seed.
	addrBattleBackground = 0x0200_0008 // 1-byte cosmetic background id.
	addrP1HP             = 0x0200_2000 // 2-byte remaining HP, for draw tie-break.
	addrP2HP             = 0x0200_2002

	joyflagsRegister = 0 // r0 holds KEYINPUT on this (placeholder) title.
	packetLen        = 16
	seqOffset        = 0xc // predict_rx advances bytes [0xc:0x10).
)

// NewTable returns the bn6 hooks.Table.
func NewTable() *hooks.Table {
	return &hooks.Table{
		Primitives: primitives{},
		Addrs: hooks.Addrs{
			MainReadJoyflags:          addrMainReadJoyflags,
			HandleInputSendAndReceive: addrHandleInputSendAndReceive,
			RoundStartRet:             addrRoundStartRet,
			RoundEndEntry1:            addrRoundEndEntry1,
			RoundEndEntry2:            addrRoundEndEntry2,
			RoundCallJumpTableRet:     addrRoundCallJumpTableRet,
			CommMenuInitRet:           addrCommMenuInitRet,
			LinkIsP2Ret:               addrLinkIsP2Ret,
			SetWin:                    addrSetWin,
			SetLoss:                   addrSetLoss,
			DamageJudgeSetWin:         addrDamageJudgeSetWin,
			DamageJudgeSetLoss:        addrDamageJudgeSetLoss,
			DamageJudgeSetDraw:        addrDamageJudgeSetDraw,
		},
		BootPatches: []hooks.BootPatch{
			{Addr: addrSkipLogoPatch, Data: []byte{0x00, 0x20}}, // MOVS r0, #0 — skip logo wait loop.
			{Addr: addrUnmaskSRAM, Data: []byte{0x01}},          // unmask SRAM.
		},
	}
}

type primitives struct{}

func (primitives) IsLinking(core emuadapter.Core) bool {
	return core.Peek(addrLinkingFlag, 1)[0] != 0
}

// SetLinking pokes the linking flag a real cartridge sets once its own
// link-menu negotiation completes. Exported for tests driving
// emuadapter/faketest.Core, which never runs the real link-menu code path
// that would set this itself.
func SetLinking(core emuadapter.Core, linking bool) {
	b := byte(0)
	if linking {
		b = 1
	}

	core.Poke(addrLinkingFlag, []byte{b})
}

func (primitives) TxPacket(core emuadapter.Core) tick.Packet {
	return tick.Packet(core.Peek(addrTxPacket, packetLen)).Clone()
}

func (primitives) SetRxPacket(core emuadapter.Core, side tick.Side, packet tick.Packet) {
	buf := make([]byte, packetLen)
	copy(buf, packet)

	addr := uint32(addrRxPacketLocal)
	if side == tick.SideRemote {
		addr = addrRxPacketRemote
	}

	core.Poke(addr, buf)
}

func (primitives) SetRNGState(core emuadapter.Core, seed uint32) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, seed)
	core.Poke(addrRNGState, buf)
}

func (primitives) SetBattleBackground(core emuadapter.Core, background int) {
	core.Poke(addrBattleBackground, []byte{byte(background)})
}

func (primitives) JoyflagsRegister() int {
	return joyflagsRegister
}

func (primitives) PredictRx(packet *tick.Packet) {
	if packet == nil || len(*packet) < seqOffset+4 {
		return
	}

	seq := binary.LittleEndian.Uint32((*packet)[seqOffset : seqOffset+4])
	seq++
	binary.LittleEndian.PutUint32((*packet)[seqOffset:seqOffset+4], seq)
}

func (primitives) PrepareForFastForward(core emuadapter.Core) {
	core.SetPC(addrMainReadJoyflags)
}

func (primitives) OnDrawResult(core emuadapter.Core) hooks.DrawOutcome {
	p1 := binary.LittleEndian.Uint16(core.Peek(addrP1HP, 2))
	p2 := binary.LittleEndian.Uint16(core.Peek(addrP2HP, 2))

	switch {
	case p1 > p2:
		return hooks.DrawOutcomeP1Win
	case p2 > p1:
		return hooks.DrawOutcomeP2Win
	default:
		return hooks.DrawOutcomeDraw
	}
}
