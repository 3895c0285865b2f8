package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadParsesServerAndGames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tournament.yaml")
	yaml := `
server:
  host: 127.0.0.1
  port: 9090
  referee_cmd: gnugo
  referee_args: ["--mode", "gtp"]
  main_time: 300
  byoyomi_time: 30
  byoyomi_moves: 5
  round_start: "01.03.2026 10:00"
games:
  - id: "1"
    player1: Alice
    player2: Bob
    player1_id: alice-engine
    player2_id: bob-engine
    kgs_room: Tournament
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "gnugo", cfg.Server.RefereeCmd)
	require.Len(t, cfg.Games, 1)
	assert.Equal(t, "alice-engine", cfg.Games[0].Player1ID)

	start, err := cfg.Server.RoundStartAt()
	require.NoError(t, err)
	assert.Equal(t, 2026, start.Year())
	assert.Equal(t, 10, start.Hour())
}

func TestRoundStartAtEmptyIsZeroTime(t *testing.T) {
	s := Server{}
	start, err := s.RoundStartAt()
	require.NoError(t, err)
	assert.True(t, start.IsZero())
}
