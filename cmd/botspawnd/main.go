package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/TheRockettek/bot-spawn-scheduler/collab"
	"github.com/TheRockettek/bot-spawn-scheduler/scheduler"
	"github.com/TheRockettek/bot-spawn-scheduler/scheduler/population"
	"github.com/TheRockettek/bot-spawn-scheduler/scheduler/resource"
	"github.com/TheRockettek/bot-spawn-scheduler/telemetry"
)

var zlog = zerolog.New(zerolog.ConsoleWriter{
	Out:        os.Stdout,
	TimeFormat: time.Stamp,
}).With().Timestamp().Logger()

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func main() {
	configPath := flag.String("config", "", "path to the scheduler config JSON file")
	redisAddress := flag.String("redis", "127.0.0.1:6379", "redis address backing Persistence")
	redisPrefix := flag.String("redis-prefix", "botspawn", "redis key prefix")
	natsAddress := flag.String("nats", "127.0.0.1:4222", "nats address for telemetry")
	natsChannel := flag.String("nats-channel", "botspawn-events", "stan channel for telemetry events")
	tickMs := flag.Int("tick-ms", 100, "scheduler tick interval in milliseconds")
	flag.Parse()

	cfg := scheduler.DefaultConfig()
	if *configPath != "" {
		loaded, err := scheduler.LoadConfig(*configPath)
		if err != nil {
			zlog.Fatal().Err(err).Str("path", *configPath).Msg("failed to load scheduler config")
		}
		cfg = loaded
	}

	redisClient := redis.NewClient(&redis.Options{Addr: *redisAddress})
	store := collab.NewRedisPersistence(redisClient, *redisPrefix)

	zoneDist, err := store.LoadZoneDistribution(context.Background())
	if err != nil {
		zlog.Warn().Err(err).Msg("zone distribution config unavailable, falling back to scheduler config defaults")
	} else if zoneDist.MinimumBotsPerZone > 0 {
		cfg.MinimumBotsPerZone = zoneDist.MinimumBotsPerZone
	}

	publisher, err := telemetry.Connect(*natsAddress, "botspawn-cluster", "botspawn-scheduler", *natsChannel, zlog.With().Str("component", "telemetry").Logger())
	if err != nil {
		zlog.Warn().Err(err).Msg("telemetry publisher degraded, continuing without it")
	}
	defer publisher.Close()

	raceClassTable := collab.NewRaceClassTable(defaultRaceClassPairs)
	distribution := collab.NewWeightedCharacterDistribution(defaultRaceClassPairs, raceClassTable, time.Now().UnixNano())

	deps := scheduler.Dependencies{
		Accounts:      collab.NewInMemoryAccountSource(defaultAccountPool),
		Names:         collab.NewRedisNameAllocator(redisClient, *redisPrefix, defaultNamePool),
		Distribution:  distribution,
		Store:         store,
		Sessions:      collab.NewInMemorySessionManager(),
		Clock:         collab.SystemClock{},
		Cache:         collab.NewInMemoryCharacterCache(),
		Pool:          collab.NewInMemoryPoolRegistry(),
		RaceClass:     raceClassTable,
		Customization: collab.NewCustomizationTables(nil),
		Telemetry:     publisher,
	}

	spawner := scheduler.New(cfg, deps, zlog)

	for zoneID, weight := range zoneDist.Weights {
		spawner.Population().UpsertZone(zoneID, func(zp *population.ZonePopulation) {
			zp.DensityFactor = float64(weight)
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticker := time.NewTicker(time.Duration(*tickMs) * time.Millisecond)
	defer ticker.Stop()

	go func() {
		for range ticker.C {
			spawner.Update(ctx, time.Duration(*tickMs)*time.Millisecond, resource.Sample{})
		}
	}()

	zlog.Info().Msg("bot spawn scheduler started, do ^C to stop")

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc

	zlog.Info().Msg("shutting down")
	spawner.DespawnAllBots(ctx)
}

// defaultRaceClassPairs, defaultAccountPool and defaultNamePool are
// placeholder seed data for a standalone run; a real deployment loads
// these from the same reference tables the world server already owns.
var defaultRaceClassPairs = []collab.RaceClassPair{
	{Race: 1, Class: 1, Weight: 5},
	{Race: 1, Class: 4, Weight: 5},
	{Race: 2, Class: 1, Weight: 5},
	{Race: 3, Class: 3, Weight: 5},
	{Race: 4, Class: 2, Weight: 5},
}

var defaultAccountPool = []uint64{1, 2, 3, 4, 5, 6, 7, 8}

var defaultNamePool = []string{
	"Aldric", "Brynn", "Caelum", "Dravos", "Elowen", "Fenwick", "Galad", "Hestia",
	"Ithris", "Juniper", "Kestrel", "Liora", "Maren", "Nereus", "Orrin", "Petra",
}
