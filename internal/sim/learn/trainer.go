// Package learn trains the utility table with one-step Q-learning over
// simulated matches. It is the only code that writes a policy.Table.
package learn

import (
	"fmt"
	"log"

	"capflag.ai/internal/sim/match"
	"capflag.ai/internal/sim/policy"
	"capflag.ai/internal/sim/rng"
	"capflag.ai/internal/sim/roster"
	"capflag.ai/internal/sim/tuning"
)

type Config struct {
	Tuning tuning.Tuning
	Speeds [][]int
	Seed   int64
}

// EpisodeStats summarizes one training match.
type EpisodeStats struct {
	MatchID string
	Ticks   uint64
	Winner  string
	Updates int
	// Return is the sum of every agent's rewards.
	Return int
}

type pending struct {
	state  policy.State
	action policy.Action
	reward int
	ok     bool
}

// Trainer runs matches in which every agent samples from the shared table
// and updates it after each of its steps.
type Trainer struct {
	cfg    Config
	table  *policy.Table
	logger *log.Logger

	alpha, gamma float64
	episode      int
}

func NewTrainer(cfg Config, table *policy.Table, logger *log.Logger) (*Trainer, error) {
	if err := cfg.Tuning.Validate(); err != nil {
		return nil, fmt.Errorf("learn: %w", err)
	}
	if table == nil {
		table = policy.NewTable()
	}
	return &Trainer{
		cfg:    cfg,
		table:  table,
		logger: logger,
		alpha:  cfg.Tuning.Learn.Alpha,
		gamma:  cfg.Tuning.Learn.Gamma,
	}, nil
}

func (t *Trainer) Table() *policy.Table { return t.table }

// Episode plays one match to completion, updating the table as it goes.
//
// An agent's step reward is held until its next decision so the update can
// bootstrap from the state it then observes. Signal rewards collected in
// between (a teammate's pickup, being tagged) are added to the held reward.
// When the match ends every held reward is applied as terminal.
func (t *Trainer) Episode() (EpisodeStats, error) {
	seed := rng.Derive(t.cfg.Seed, fmt.Sprintf("episode/%d", t.episode))
	t.episode++

	tu := t.cfg.Tuning
	r, err := match.NewRunner(match.Config{
		Seed:   seed,
		Tuning: tu,
		Speeds: t.cfg.Speeds,
		Strategies: func(id roster.ID) policy.Strategy {
			src := rng.New(rng.Derive(seed, "policy/"+id.String()))
			return policy.NewLearned(t.table, policy.Probabilistic, src, tu.Policy.Epsilon, nil)
		},
	}, t.logger)
	if err != nil {
		return EpisodeStats{}, err
	}

	held := make(map[*roster.Agent]*pending, r.Registry().Len())
	for _, a := range r.Registry().Agents() {
		held[a] = &pending{}
	}
	stats := EpisodeStats{MatchID: r.ID()}

	hook := func(a *roster.Agent, s policy.State, hla policy.Action, res match.Result, signal map[*roster.Agent]int) {
		p := held[a]
		if p.ok {
			t.update(p.state, p.action, float64(p.reward), s, false)
			stats.Updates++
		}
		*p = pending{state: s, action: hla, reward: res.Reward, ok: true}
		stats.Return += res.Reward
		for o, v := range signal {
			if q := held[o]; q.ok {
				q.reward += v
			}
			stats.Return += v
		}
	}

	for !r.Done() {
		if _, err := r.RoundWithHook(hook); err != nil {
			return stats, err
		}
	}
	for _, a := range r.Registry().Agents() {
		if p := held[a]; p.ok {
			t.update(p.state, p.action, float64(p.reward), policy.State{}, true)
			stats.Updates++
		}
	}

	stats.Ticks = r.Tick()
	if w, ok := r.Winner(); ok {
		stats.Winner = w.String()
	}
	return stats, nil
}

// update applies Q(s,a) += alpha * (r + gamma * max Q(s',.) - Q(s,a)).
func (t *Trainer) update(s policy.State, a policy.Action, reward float64, next policy.State, terminal bool) {
	target := reward
	if !terminal {
		if _, v, ok := t.table.Best(next, policy.AvailableActions(next)); ok {
			target += t.gamma * v
		}
	}
	q := t.table.Value(s, a)
	t.table.Set(s, a, q+t.alpha*(target-q))
}
