package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/adwski/badminton-live/backend/config"
	"github.com/adwski/badminton-live/backend/metrics"
	"github.com/adwski/badminton-live/backend/score"
	httpServer "github.com/adwski/badminton-live/backend/server/http"
	websocketServer "github.com/adwski/badminton-live/backend/server/websocket"
	"github.com/adwski/badminton-live/backend/service"
	store "github.com/adwski/badminton-live/backend/storage/memory"
	sw "github.com/adwski/badminton-live/backend/switch"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger = logger.Level(cfg.Level())

	var roomStore *store.MemStore
	m := metrics.New(func() int { return roomStore.Len() })

	roomStore = store.NewMemStore(store.Config{
		Logger:        &logger,
		Switch:        sw.NewSwitch(&logger, m),
		Clock:         clockwork.NewRealClock(),
		IdleTTL:       cfg.RoomIdleTTL,
		SweepInterval: cfg.SweepInterval,
	})
	svc := service.NewService(service.Config{
		Registry: roomStore,
		Engine:   score.NewEngine(cfg.Rules()),
		Metrics:  m,
		Logger:   &logger,
	})
	httpSrv := httpServer.NewServer(httpServer.Config{
		Logger:         &logger,
		RoomService:    roomStore,
		MetricsHandler: m.Handler(),
		ListenAddr:     cfg.APIListenAddr,
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:      &logger,
		SyncService: svc,
		ListenAddr:  cfg.WSListenAddr,
		SendBuffer:  cfg.SendBuffer,
	})

	logger.Info().
		Int("bestOf", cfg.BestOf).
		Dur("roomIdleTTL", cfg.RoomIdleTTL).
		Msg("starting scoreboard")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 2)
	)
	wg.Add(3)
	go httpSrv.Run(ctx, wg, errc)
	go wsSrv.Run(ctx, wg, errc)
	go roomStore.Run(ctx, wg)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
}
