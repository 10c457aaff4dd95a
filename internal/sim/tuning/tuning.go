package tuning

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	Match   Match   `yaml:"match"`
	Terrain Terrain `yaml:"terrain"`
	Planner Planner `yaml:"planner"`
	Policy  Policy  `yaml:"policy"`
	Rewards Rewards `yaml:"rewards"`
	Learn   Learn   `yaml:"learn"`
}

type Match struct {
	TeamSize           int  `yaml:"team_size"`
	MaxTicks           int  `yaml:"max_ticks"`
	TickRateHz         int  `yaml:"tick_rate_hz"`
	IncapacitatedTicks int  `yaml:"incapacitated_ticks"`
	StartZoneDivisor   int  `yaml:"start_zone_divisor"`
	AllowBarriers      bool `yaml:"allow_barriers"`
}

type Terrain struct {
	TileSize       int `yaml:"tile_size"`
	FlagAreaRadius int `yaml:"flag_area_radius"`
	FlagInset      int `yaml:"flag_inset"`
}

type Planner struct {
	// Algorithm is one of astar, bfs, dfs.
	Algorithm      string  `yaml:"algorithm"`
	NearRadius     float64 `yaml:"near_radius"`
	BlockedTicks   int     `yaml:"blocked_ticks"`
	RecoveryJitter int     `yaml:"recovery_jitter"`
	HeadingJitter  int     `yaml:"heading_jitter"`
}

type Policy struct {
	// Mode is greedy or probabilistic.
	Mode    string  `yaml:"mode"`
	Epsilon float64 `yaml:"epsilon"`
}

type Rewards struct {
	Stationary        int `yaml:"stationary"`
	Move              int `yaml:"move"`
	Tagged            int `yaml:"tagged"`
	TaggedFlagHolder  int `yaml:"tagged_flag_holder"`
	GotTagged         int `yaml:"got_tagged"`
	GotTaggedWithFlag int `yaml:"got_tagged_with_flag"`
	RevivedTeammate   int `yaml:"revived_teammate"`
	GotFlag           int `yaml:"got_flag"`
	TeammateGotFlag   int `yaml:"teammate_got_flag"`
	OpponentGotFlag   int `yaml:"opponent_got_flag"`
	Won               int `yaml:"won"`
	WonTeammate       int `yaml:"won_teammate"`
	Lost              int `yaml:"lost"`
}

type Learn struct {
	Alpha    float64 `yaml:"alpha"`
	Gamma    float64 `yaml:"gamma"`
	Episodes int     `yaml:"episodes"`
}

func Defaults() Tuning {
	return Tuning{
		Match: Match{
			TeamSize:           6,
			MaxTicks:           2000,
			TickRateHz:         10,
			IncapacitatedTicks: 5,
			StartZoneDivisor:   3,
			AllowBarriers:      true,
		},
		Terrain: Terrain{
			TileSize:       30,
			FlagAreaRadius: 2,
			FlagInset:      5,
		},
		Planner: Planner{
			Algorithm:      "astar",
			NearRadius:     3,
			BlockedTicks:   20,
			RecoveryJitter: 10,
			HeadingJitter:  20,
		},
		Policy: Policy{
			Mode:    "greedy",
			Epsilon: 1e-10,
		},
		Rewards: DefaultRewards(),
		Learn: Learn{
			Alpha:    0.1,
			Gamma:    0.9,
			Episodes: 1000,
		},
	}
}

func DefaultRewards() Rewards {
	return Rewards{
		Stationary:        -5,
		Move:              -1,
		Tagged:            20,
		TaggedFlagHolder:  100,
		GotTagged:         -20,
		GotTaggedWithFlag: -100,
		RevivedTeammate:   25,
		GotFlag:           50,
		TeammateGotFlag:   5,
		OpponentGotFlag:   -5,
		Won:               500,
		WonTeammate:       10,
		Lost:              -500,
	}
}

// Load reads a tuning file on top of Defaults, so omitted keys keep their default.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	var errs []error
	if t.Match.TeamSize < 1 {
		errs = append(errs, fmt.Errorf("match.team_size must be >= 1, got %d", t.Match.TeamSize))
	}
	if t.Match.MaxTicks < 1 {
		errs = append(errs, fmt.Errorf("match.max_ticks must be >= 1, got %d", t.Match.MaxTicks))
	}
	if t.Match.TickRateHz < 1 {
		errs = append(errs, fmt.Errorf("match.tick_rate_hz must be >= 1, got %d", t.Match.TickRateHz))
	}
	if t.Match.IncapacitatedTicks < 0 {
		errs = append(errs, fmt.Errorf("match.incapacitated_ticks must be >= 0"))
	}
	if t.Match.StartZoneDivisor < 2 {
		errs = append(errs, fmt.Errorf("match.start_zone_divisor must be >= 2, got %d", t.Match.StartZoneDivisor))
	}
	if t.Terrain.TileSize < 1 {
		errs = append(errs, fmt.Errorf("terrain.tile_size must be >= 1, got %d", t.Terrain.TileSize))
	}
	if t.Terrain.FlagAreaRadius < 0 {
		errs = append(errs, fmt.Errorf("terrain.flag_area_radius must be >= 0"))
	}
	switch strings.ToLower(t.Planner.Algorithm) {
	case "astar", "bfs", "dfs":
	default:
		errs = append(errs, fmt.Errorf("planner.algorithm %q: want astar, bfs or dfs", t.Planner.Algorithm))
	}
	if t.Planner.BlockedTicks < 1 {
		errs = append(errs, fmt.Errorf("planner.blocked_ticks must be >= 1"))
	}
	switch strings.ToLower(t.Policy.Mode) {
	case "greedy", "probabilistic":
	default:
		errs = append(errs, fmt.Errorf("policy.mode %q: want greedy or probabilistic", t.Policy.Mode))
	}
	if t.Policy.Epsilon <= 0 {
		errs = append(errs, fmt.Errorf("policy.epsilon must be > 0"))
	}
	if t.Learn.Alpha <= 0 || t.Learn.Alpha > 1 {
		errs = append(errs, fmt.Errorf("learn.alpha must be in (0,1]"))
	}
	if t.Learn.Gamma < 0 || t.Learn.Gamma > 1 {
		errs = append(errs, fmt.Errorf("learn.gamma must be in [0,1]"))
	}
	return errors.Join(errs...)
}
