package match

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"

	"capflag.ai/internal/sim/roster"
)

// Digest hashes the mutable match state: tick, flags and every agent in
// registry order. Two matches that agree on the digest agree on everything
// the next round depends on, except the random streams.
func (r *Runner) Digest() string {
	h := sha256.New()
	var tmp [8]byte

	digestWriteU64(h, &tmp, r.tick)
	flags := r.engine.Flags()
	h.Write([]byte{boolByte(flags.InPlay[0]), boolByte(flags.InPlay[1]), boolByte(r.done)})
	for _, a := range r.reg.Agents() {
		digestAgent(h, &tmp, a)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func digestAgent(h hash.Hash, tmp *[8]byte, a *roster.Agent) {
	h.Write([]byte(a.ID.String()))
	digestWriteI64(h, tmp, int64(a.Pos.X))
	digestWriteI64(h, tmp, int64(a.Pos.Y))
	digestWriteI64(h, tmp, int64(a.IncapacitatedCountdown))
	digestWriteI64(h, tmp, int64(a.Nav.BlockedCountdown))
	h.Write([]byte{
		boolByte(a.HasFlag),
		boolByte(a.Incapacitated),
		boolByte(a.InEnemyTerritory),
		boolByte(a.InFlagArea),
		byte(a.Action),
		byte(a.Facing),
		byte(a.Nav.Heading),
		byte(a.Nav.RecoveryDir),
	})
}

func digestWriteU64(h hash.Hash, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestWriteI64(h hash.Hash, tmp *[8]byte, v int64) {
	digestWriteU64(h, tmp, uint64(v))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
