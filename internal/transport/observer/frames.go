package observer

import (
	"capflag.ai/internal/observerproto"
	"capflag.ai/internal/sim/ctf"
	"capflag.ai/internal/sim/encoding"
	"capflag.ai/internal/sim/match"
)

// Bootstrap describes r's field for a fresh spectator.
func Bootstrap(r *match.Runner) observerproto.BootstrapResponse {
	g := r.Grid()
	t := r.Tuning()
	blue, red := g.FlagTile(ctf.Blue), g.FlagTile(ctf.Red)
	speeds := g.Speeds()
	return observerproto.BootstrapResponse{
		ProtocolVersion: observerproto.Version,
		MatchID:         r.ID(),
		Tick:            r.Tick(),
		MatchParams: observerproto.MatchParams{
			TickRateHz: t.Match.TickRateHz,
			TileSize:   g.TileSize(),
			Cols:       g.Cols(),
			Rows:       g.Rows(),
			TeamSize:   t.Match.TeamSize,
			MaxTicks:   t.Match.MaxTicks,
			Seed:       r.Seed(),
		},
		Speeds:    speeds,
		SpeedsRLE: encoding.EncodeSpeeds(speeds),
		BlueFlag:  [2]int{blue.Col, blue.Row},
		RedFlag:   [2]int{red.Col, red.Row},
		Midline:   g.Midline(),
	}
}

// TickFrame builds the TICK message for the round entry r just played.
// Steps are always filled; the server strips them per subscriber.
func TickFrame(r *match.Runner, entry match.TickLogEntry) observerproto.TickMsg {
	reg := r.Registry()
	totals := r.Totals()
	msg := observerproto.TickMsg{
		Type:            observerproto.TypeTick,
		ProtocolVersion: observerproto.Version,
		MatchID:         entry.MatchID,
		Tick:            entry.Tick,
		BlueFlagInPlay:  entry.BlueFlag,
		RedFlagInPlay:   entry.RedFlag,
		Done:            entry.Done,
		Winner:          entry.Winner,
		Agents:          make([]observerproto.AgentState, 0, reg.Len()),
		Steps:           make([]observerproto.StepInfo, 0, len(entry.Steps)),
	}
	for _, a := range reg.Agents() {
		tile := reg.Tile(a)
		msg.Agents = append(msg.Agents, observerproto.AgentState{
			ID:            a.ID.String(),
			Team:          a.Team.String(),
			Pos:           [2]int{a.Pos.X, a.Pos.Y},
			Tile:          [2]int{tile.Col, tile.Row},
			Facing:        a.Facing.String(),
			Action:        a.Action.String(),
			HasFlag:       a.HasFlag,
			Incapacitated: a.Incapacitated,
			Reward:        totals[a.ID],
		})
	}
	for _, st := range entry.Steps {
		msg.Steps = append(msg.Steps, observerproto.StepInfo{
			AgentID: st.Agent,
			Action:  st.Action.String(),
			Move:    st.Move,
			Outcome: st.Outcome.String(),
			Reward:  st.Reward,
		})
	}
	return msg
}
