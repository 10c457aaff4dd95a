package terrain

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"capflag.ai/internal/sim/ctf"
)

// MapFile is the on-disk form of a map (configs/maps/*.yaml).
type MapFile struct {
	Name     string   `yaml:"name"`
	Speeds   [][]int  `yaml:"speeds"`
	BlueFlag *[2]int  `yaml:"blue_flag,omitempty"` // [col, row]
	RedFlag  *[2]int  `yaml:"red_flag,omitempty"`
	Legend   []Legend `yaml:"legend,omitempty"`
}

// Legend documents which terrain kind a speed value stands for.
type Legend struct {
	Kind  string `yaml:"kind"`
	Speed int    `yaml:"speed"`
}

func LoadMap(path string) (MapFile, error) {
	var m MapFile
	raw, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("map %s: %w", path, err)
	}
	if len(m.Speeds) == 0 {
		return m, fmt.Errorf("map %s: %w: no speeds", path, ErrInvalidGrid)
	}
	return m, nil
}

// FlagTiles returns the fixed flag tiles, or nils when the map leaves flag
// placement to the match.
func (m MapFile) FlagTiles() (blue, red *ctf.Tile) {
	if m.BlueFlag == nil || m.RedFlag == nil {
		return nil, nil
	}
	b := ctf.Tile{Col: m.BlueFlag[0], Row: m.BlueFlag[1]}
	r := ctf.Tile{Col: m.RedFlag[0], Row: m.RedFlag[1]}
	return &b, &r
}
