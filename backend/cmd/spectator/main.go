// Command spectator follows a room and logs every scoreboard update.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adwski/badminton-live/backend/client"
	"github.com/adwski/badminton-live/backend/model"
	"github.com/davecgh/go-spew/spew"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("spectator", pflag.ContinueOnError)

	var (
		url       = fs.StringP("url", "u", "ws://localhost:8888/ws", "scoreboard websocket url")
		roomID    = fs.StringP("room", "r", "", "room to follow")
		reconnect = fs.Uint("reconnect", 0, "reconnect attempts after a connection loss, 0 disables")
		delay     = fs.Duration("reconnect-delay", 500*time.Millisecond, "initial reconnect delay")
		dump      = fs.Bool("dump", false, "dump every snapshot")
		logLevel  = fs.StringP("log-level", "l", "info", "log level")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}
	if *roomID == "" {
		logger.Fatal().Msg("--room is required")
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c, err := client.Dial(ctx, client.Config{
		URL:    *url,
		Logger: &logger,
		Reconnect: client.ReconnectPolicy{
			Attempts: *reconnect,
			Delay:    *delay,
			MaxDelay: 30 * time.Second,
		},
		OnState: func(s model.MatchState) {
			ev := logger.Info().
				Str("room", s.RoomID).
				Str("players", s.Player1+" vs "+s.Player2).
				Str("score", fmt.Sprintf("%d-%d", s.Score1, s.Score2)).
				Str("sets", fmt.Sprintf("%d-%d", s.Set1, s.Set2)).
				Bool("deuce", s.Deuce())
			if s.Finished() {
				ev = ev.Str("winner", s.Winner)
			}
			ev.Msg("scoreboard")
			if *dump {
				spew.Fdump(os.Stderr, s)
			}
		},
		OnNotice: func(n client.Notice) {
			switch n.Kind {
			case client.NoticeError:
				logger.Error().Str("code", n.Code).Msg(n.Message)
			case client.NoticeTransport:
				logger.Warn().Err(n.Err).Msg("connection lost")
			case client.NoticeReconnected:
				logger.Info().Msg("reconnected")
			default:
				logger.Info().Str("winner", n.Winner).Msg(n.Message)
			}
		},
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect")
	}

	if err = c.JoinRoom(ctx, *roomID); err != nil {
		c.Close()
		logger.Fatal().Err(err).Msg("failed to join room")
	}

	err = c.Run(ctx)
	c.Close()
	if err != nil {
		logger.Fatal().Err(err).Msg("spectator stopped")
	}
}
