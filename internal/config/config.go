// Package config holds the tournament server's boot-time configuration:
// YAML-loadable structs for the server-wide section and one section per
// scheduled match, following the teacher's LoadX(path) (X, error) pattern.
//
// The source format the tournament is actually distributed with is an
// ini-style file (one Game=<id> section per match); translating that
// format is a boot-time concern, not part of the core, so only the
// resulting struct and a YAML loader live here. See DESIGN.md for why
// an ini reader was not written.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// roundStartLayout is the "DD.MM.YYYY HH:MM" format used by RoundStart.
const roundStartLayout = "02.01.2006 15:04"

// Server is the tournament-wide section: listener address, the referee
// binary, default clock, and the setup commands replayed into every
// referee/player session.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	RefereeCmd  string   `yaml:"referee_cmd"`
	RefereeArgs []string `yaml:"referee_args"`

	KGSAPI string `yaml:"kgs_api"`

	MainTime     float64 `yaml:"main_time"`
	ByoyomiTime  float64 `yaml:"byoyomi_time"`
	ByoyomiMoves int     `yaml:"byoyomi_moves"`

	BoardSize int     `yaml:"board_size"`
	Komi      float64 `yaml:"komi"`

	// RoundStart is "DD.MM.YYYY HH:MM"; the server blocks startGames()
	// until this instant.
	RoundStart string `yaml:"round_start"`

	RefereeSetupCommands []string `yaml:"referee_setup_commands"`
	PlayerSetupCommands  []string `yaml:"player_setup_commands"`

	// PlayerRateLimit/PlayerRateBurst bound how fast an accepted player
	// socket may be driven; zero means unlimited.
	PlayerRateLimit float64 `yaml:"player_rate_limit"`
	PlayerRateBurst int     `yaml:"player_rate_burst"`
}

// RoundStartAt parses RoundStart, or returns the zero time if unset (no
// scheduled delay: games start as soon as startGames() is called).
func (s Server) RoundStartAt() (time.Time, error) {
	if s.RoundStart == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(roundStartLayout, s.RoundStart)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing round_start %q: %w", s.RoundStart, err)
	}
	return t, nil
}

// Game is one scheduled match: a "Game=<id>" section in the source ini
// format.
type Game struct {
	ID string `yaml:"id"`

	KGSRoom     string `yaml:"kgs_room"`
	KGSName     string `yaml:"kgs_name"`
	KGSPassword string `yaml:"kgs_password"`

	Player1   string `yaml:"player1"` // display name
	Player2   string `yaml:"player2"`
	Player1ID string `yaml:"player1_id"` // matchmaking id, echoed by the engine on connect
	Player2ID string `yaml:"player2_id"`
}

// Tournament is the whole boot-time configuration: one Server section
// plus the declared matches.
type Tournament struct {
	Server Server `yaml:"server"`
	Games  []Game `yaml:"games"`
}

// Default returns a Tournament with conservative defaults: all
// interfaces on port 9080, a 30-minute main time followed by 30-second
// byo-yomi periods of 5 moves, a 19x19 board with komi 7.5, and no
// scheduled matches.
func Default() Tournament {
	return Tournament{
		Server: Server{
			Host:            "0.0.0.0",
			Port:            9080,
			MainTime:        1800,
			ByoyomiTime:     30,
			ByoyomiMoves:    5,
			BoardSize:       19,
			Komi:            7.5,
			PlayerRateLimit: 20,
			PlayerRateBurst: 5,
		},
	}
}

// Load reads a Tournament from a YAML file. A missing file is not an
// error: it returns Default().
func Load(path string) (Tournament, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}
