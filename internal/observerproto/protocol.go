package observerproto

// Version is the observer protocol version.
const Version = "0.1"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeTick      = "TICK"
	TypeError     = "ERROR"
)

const (
	ErrBadRequest = "E_PROTO_BAD_REQUEST"
	ErrVersion    = "E_PROTO_VERSION"
)

// Server -> Client. Sent before the server closes a connection it refuses.
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

// Client -> Server. First message on the observer WS connection, and can be
// re-sent to change settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Steps asks for per-agent step records in every TICK.
	Steps bool `json:"steps,omitempty"`
}

// HTTP response for GET /v1/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string      `json:"protocol_version"`
	MatchID         string      `json:"match_id"`
	Tick            uint64      `json:"tick"`
	MatchParams     MatchParams `json:"match_params"`

	// Speeds is row-major: Speeds[row][col]; 0 is impassable. SpeedsRLE is
	// the same grid as base64 varint (speed, run) pairs.
	Speeds    [][]int `json:"speeds"`
	SpeedsRLE string  `json:"speeds_rle"`
	BlueFlag  [2]int  `json:"blue_flag"`
	RedFlag   [2]int  `json:"red_flag"`
	Midline   int     `json:"midline"`
}

type MatchParams struct {
	TickRateHz int   `json:"tick_rate_hz"`
	TileSize   int   `json:"tile_size"`
	Cols       int   `json:"cols"`
	Rows       int   `json:"rows"`
	TeamSize   int   `json:"team_size"`
	MaxTicks   int   `json:"max_ticks"`
	Seed       int64 `json:"seed"`
}

// Server -> Client. Sent every round.
type TickMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	MatchID         string `json:"match_id"`
	Tick            uint64 `json:"tick"`

	BlueFlagInPlay bool `json:"blue_flag_in_play"`
	RedFlagInPlay  bool `json:"red_flag_in_play"`

	Agents []AgentState `json:"agents"`
	Steps  []StepInfo   `json:"steps,omitempty"`

	Done   bool   `json:"done,omitempty"`
	Winner string `json:"winner,omitempty"`
}

type AgentState struct {
	ID   string `json:"id"`
	Team string `json:"team"`

	// Pos is in pixels; Tile is (col,row).
	Pos  [2]int `json:"pos"`
	Tile [2]int `json:"tile"`

	Facing        string `json:"facing"`
	Action        string `json:"action"`
	HasFlag       bool   `json:"has_flag"`
	Incapacitated bool   `json:"incapacitated"`
	Reward        int    `json:"reward"`
}

type StepInfo struct {
	AgentID string `json:"agent_id"`
	Action  string `json:"action"`
	Move    string `json:"move,omitempty"`
	Outcome string `json:"outcome"`
	Reward  int    `json:"reward"`
}
