package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"capflag.ai/internal/observerproto"
	"capflag.ai/internal/sim/encoding"
)

func main() {
	var (
		url       = flag.String("url", "ws://localhost:8080/v1/observe", "observer ws url")
		bootstrap = flag.String("bootstrap", "http://localhost:8080/v1/bootstrap", "bootstrap url (empty to skip)")
		steps     = flag.Bool("steps", false, "request per-agent step records")
		every     = flag.Uint64("every", 50, "print a summary every N rounds")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[watch] ", log.LstdFlags|log.Lmicroseconds)

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sub := observerproto.SubscribeMsg{
		Type:            observerproto.TypeSubscribe,
		ProtocolVersion: observerproto.Version,
		Steps:           *steps,
	}
	if err := conn.WriteJSON(sub); err != nil {
		logger.Fatalf("send SUBSCRIBE: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	var current string
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg observerproto.TickMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Type == observerproto.TypeError {
			var e observerproto.ErrorMsg
			_ = json.Unmarshal(raw, &e)
			logger.Fatalf("refused: %s: %s", e.Code, e.Message)
		}
		if msg.Type != observerproto.TypeTick {
			continue
		}
		if msg.MatchID != current {
			current = msg.MatchID
			if *bootstrap != "" {
				if b, err := fetchBootstrap(*bootstrap); err != nil {
					logger.Printf("bootstrap: %v", err)
				} else {
					logger.Printf("MATCH %s %dx%d team_size=%d max_ticks=%d seed=%d blue_flag=%v red_flag=%v blocked=%d",
						b.MatchID, b.MatchParams.Cols, b.MatchParams.Rows, b.MatchParams.TeamSize,
						b.MatchParams.MaxTicks, b.MatchParams.Seed, b.BlueFlag, b.RedFlag, blockedTiles(b))
				}
			}
		}
		if msg.Done || (*every > 0 && msg.Tick%*every == 0) {
			logger.Print(summarize(msg))
		}
		for _, st := range msg.Steps {
			switch st.Outcome {
			case "moved", "stationary", "recovering":
			default:
				logger.Printf("  tick %d %s %s: %s (%+d)", msg.Tick, st.AgentID, st.Action, st.Outcome, st.Reward)
			}
		}
	}
}

func fetchBootstrap(url string) (observerproto.BootstrapResponse, error) {
	var b observerproto.BootstrapResponse
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return b, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return b, fmt.Errorf("status %s", resp.Status)
	}
	err = json.NewDecoder(resp.Body).Decode(&b)
	return b, err
}

// blockedTiles counts impassable tiles in the bootstrap's encoded grid.
func blockedTiles(b observerproto.BootstrapResponse) int {
	speeds, err := encoding.DecodeSpeeds(b.SpeedsRLE, b.MatchParams.Cols, b.MatchParams.Rows)
	if err != nil {
		speeds = b.Speeds
	}
	n := 0
	for _, row := range speeds {
		for _, v := range row {
			if v <= 0 {
				n++
			}
		}
	}
	return n
}

// summarize renders one line per round: flag state, carriers, tagged agents
// and each team's summed reward.
func summarize(msg observerproto.TickMsg) string {
	var carriers, down []string
	score := map[string]int{}
	for _, a := range msg.Agents {
		score[a.Team] += a.Reward
		if a.HasFlag {
			carriers = append(carriers, a.ID)
		}
		if a.Incapacitated {
			down = append(down, a.ID)
		}
	}
	sort.Strings(carriers)
	sort.Strings(down)

	var b strings.Builder
	fmt.Fprintf(&b, "tick %d blue=%+d red=%+d", msg.Tick, score["blue"], score["red"])
	if msg.BlueFlagInPlay || msg.RedFlagInPlay {
		fmt.Fprintf(&b, " carried=[%s]", strings.Join(carriers, ","))
	}
	if len(down) > 0 {
		fmt.Fprintf(&b, " down=[%s]", strings.Join(down, ","))
	}
	if msg.Done {
		if msg.Winner != "" {
			fmt.Fprintf(&b, " FINAL: %s wins", msg.Winner)
		} else {
			b.WriteString(" FINAL: draw")
		}
	}
	return b.String()
}
