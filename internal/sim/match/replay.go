package match

import (
	"fmt"

	"capflag.ai/internal/sim/policy"
)

// DigestMismatch reports the first round whose re-simulated state differs
// from the recorded one.
type DigestMismatch struct {
	Tick     uint64
	Recorded string
	Replayed string
}

func (e *DigestMismatch) Error() string {
	return fmt.Sprintf("digest mismatch at tick %d: recorded %s, replayed %s", e.Tick, e.Recorded, e.Replayed)
}

// Replay re-steps r with the actions recorded in entries and checks every
// round's digest. r must be freshly built from the same Config as the
// recorded match. It returns the number of rounds verified.
func Replay(r *Runner, entries []TickLogEntry) (int, error) {
	for i, e := range entries {
		if e.MatchID != r.id {
			return i, fmt.Errorf("entry %d belongs to match %s, not %s", i, e.MatchID, r.id)
		}
		if e.Tick != r.tick {
			return i, fmt.Errorf("entry %d is tick %d, runner is at tick %d", i, e.Tick, r.tick)
		}
		actions := make([]policy.Action, len(e.Steps))
		for j, s := range e.Steps {
			actions[j] = s.Action
		}
		got, err := r.ReplayRound(actions)
		if err != nil {
			return i, err
		}
		if got.Digest != e.Digest {
			return i, &DigestMismatch{Tick: e.Tick, Recorded: e.Digest, Replayed: got.Digest}
		}
	}
	return len(entries), nil
}
