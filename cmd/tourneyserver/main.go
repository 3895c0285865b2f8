// Command tourneyserver runs a GTP tournament: it loads the configured
// matches, opens their KGS mirrors, waits for the scheduled round
// start, then drives every match's turn loop to completion.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/udisondev/gtptourney/internal/config"
	"github.com/udisondev/gtptourney/internal/deadline"
	"github.com/udisondev/gtptourney/internal/match"
	"github.com/udisondev/gtptourney/internal/tourneyserver"
)

const DefaultConfigPath = "config/tourney.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfgPath := DefaultConfigPath
	if p := os.Getenv("GTPTOURNEY_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	slog.Info("gtptourney starting", "games", len(cfg.Games), "host", cfg.Server.Host, "port", cfg.Server.Port)

	matches, err := buildMatches(ctx, cfg)
	if err != nil {
		return fmt.Errorf("constructing matches: %w", err)
	}

	srv := tourneyserver.New(cfg.Server, matches)
	if err := srv.Listen(); err != nil {
		return fmt.Errorf("opening listener: %w", err)
	}

	go func() {
		if err := srv.Serve(ctx); err != nil {
			slog.Error("tourneyserver: serve loop exited", "err", err)
		}
	}()
	slog.Info("listening for engines", "addr", srv.Addr())

	if err := waitForRoundStart(ctx, cfg.Server); err != nil {
		return err
	}

	slog.Info("round starting", "games", len(matches))
	if err := tourneyserver.StartGames(ctx, matches); err != nil {
		return fmt.Errorf("running matches: %w", err)
	}

	for _, m := range matches {
		slog.Info("match finished", "match", m.ID, "result", m.Result())
	}

	return nil
}

func buildMatches(ctx context.Context, cfg config.Tournament) ([]*match.Match, error) {
	matches := make([]*match.Match, 0, len(cfg.Games))
	for _, g := range cfg.Games {
		mcfg := match.Config{
			Title:                g.ID,
			RefereeCommand:       cfg.Server.RefereeCmd,
			RefereeArgs:          cfg.Server.RefereeArgs,
			RefereeSetupCommands: cfg.Server.RefereeSetupCommands,
			PlayerSetupCommands:  cfg.Server.PlayerSetupCommands,
			MainTime:             cfg.Server.MainTime,
			ByoyomiTime:          cfg.Server.ByoyomiTime,
			ByoyomiMoves:         cfg.Server.ByoyomiMoves,
			BoardSize:            cfg.Server.BoardSize,
			Komi:                 cfg.Server.Komi,
			Player1ID:            g.Player1ID,
			Player2ID:            g.Player2ID,
			Player1Name:          g.Player1,
			Player2Name:          g.Player2,
		}
		if cfg.Server.KGSAPI != "" && g.KGSRoom != "" {
			mcfg.KGS = &match.KGSConfig{
				APIURL:   cfg.Server.KGSAPI,
				Login:    g.KGSName,
				Password: g.KGSPassword,
				Room:     g.KGSRoom,
				Name:     g.KGSName,
			}
		}

		m, err := match.New(ctx, mcfg)
		if err != nil {
			return nil, fmt.Errorf("match %q: %w", g.ID, err)
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func waitForRoundStart(ctx context.Context, cfg config.Server) error {
	start, err := cfg.RoundStartAt()
	if err != nil {
		return err
	}
	if start.IsZero() {
		return nil
	}
	wait := time.Until(start)
	if wait <= 0 {
		return nil
	}

	dl := deadline.After(int(wait.Seconds()) + 1)
	slog.Info("waiting for round start", "at", start, "in", wait)
	timerCh, stop := dl.Timer()
	defer stop()
	select {
	case <-timerCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
