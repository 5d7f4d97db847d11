// Package scheduler implements the Spawner Core: the tick-driven state
// machine that owns the priority queue, the population model, and the
// pull-based composition of the resource monitor, circuit breaker,
// adaptive throttler, and startup orchestrator.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/TheRockettek/bot-spawn-scheduler/collab"
	"github.com/TheRockettek/bot-spawn-scheduler/scheduler/breaker"
	"github.com/TheRockettek/bot-spawn-scheduler/scheduler/population"
	"github.com/TheRockettek/bot-spawn-scheduler/scheduler/queue"
	"github.com/TheRockettek/bot-spawn-scheduler/scheduler/resource"
	"github.com/TheRockettek/bot-spawn-scheduler/scheduler/startup"
	"github.com/TheRockettek/bot-spawn-scheduler/scheduler/throttle"
	"github.com/TheRockettek/bot-spawn-scheduler/telemetry"
)

// Dependencies bundles the six external collaborators plus the two
// supporting capability sets (CharacterCache, PoolRegistry) the Spawner
// Core consumes but never implements.
type Dependencies struct {
	Accounts      collab.AccountSource
	Names         collab.NameAllocator
	Distribution  collab.CharacterDistribution
	Store         collab.Persistence
	Sessions      collab.SessionManager
	Clock         collab.Clock
	Cache         collab.CharacterCache
	Pool          collab.PoolRegistry
	RaceClass     *collab.RaceClassTable
	Customization *collab.CustomizationTables
	Telemetry     *telemetry.Publisher
}

// Snapshot is the point-in-time read-only view of scheduler state exposed
// to callers and published via telemetry, per SPEC_FULL.md's graceful
// degradation remark.
type Snapshot struct {
	Stats         StatsSnapshot
	PressureLevel resource.Level
	BreakerState  breaker.State
	ThrottleRate  float64
	QueueMetrics  queue.Metrics
	Phase         startup.Phase
	Enabled       bool
}

// Spawner is the top-level scheduler state machine. It is a process-wide
// singleton in production, constructed once via New and driven by
// repeated Update calls from the host tick loop.
type Spawner struct {
	cfg atomic.Value // Config

	deps Dependencies
	log  zerolog.Logger

	queue   *queue.Queue
	pop     *population.Tracker
	monitor *resource.Monitor
	brk     *breaker.Breaker
	throt   *throttle.Throttler
	orch    *startup.Orchestrator

	stats GlobalStats

	enabled int32 // atomic bool

	draining     int32 // atomic CAS flag, §5 mutual exclusion of drain body
	checkingReal int32 // atomic CAS flag, §5 reentrancy guard

	lastZoneRefresh time.Time
	zoneRefreshEvery time.Duration

	lastSpawnAt time.Time // cfg.SpawnDelayMs inter-spawn spacing baseline

	dynamicEngaged int32 // atomic bool, set once real players are observed
}

// New constructs a Spawner wired to deps, seeded from cfg. The scheduler
// starts enabled; a Fatal error during Update disables it permanently.
func New(cfg Config, deps Dependencies, log zerolog.Logger) *Spawner {
	now := func() time.Time { return deps.Clock.NowTimestamp() }

	s := &Spawner{
		deps:             deps,
		log:              log.With().Str("component", "spawner").Logger(),
		queue:            queue.New(func() int64 { return int64(deps.Clock.NowMs()) }),
		pop:              population.NewTracker(),
		monitor:          resource.New(resource.DefaultThresholds()),
		brk:              breaker.New(breaker.DefaultConfig(), now),
		zoneRefreshEvery: 5 * time.Second,
	}
	s.throt = throttle.New(throttle.DefaultConfig(), s.brk, s.monitor, now)

	startupCfg := startup.DefaultConfig()
	startupCfg.Armed = cfg.SpawnOnServerStart
	s.orch = startup.New(startupCfg, now)
	if cfg.SpawnOnServerStart {
		atomic.StoreInt32(&s.dynamicEngaged, 1)
	}

	s.cfg.Store(cfg)
	atomic.StoreInt32(&s.enabled, 1)
	return s
}

// Config returns the currently active configuration.
func (s *Spawner) Config() Config {
	return s.cfg.Load().(Config)
}

// SetConfig atomically swaps the active configuration.
func (s *Spawner) SetConfig(cfg Config) {
	s.cfg.Store(cfg)
}

// Enabled reports whether the scheduler is currently processing work.
func (s *Spawner) Enabled() bool {
	return atomic.LoadInt32(&s.enabled) == 1
}

// disable permanently stops the scheduler from processing further work,
// per §7's Fatal semantics: any uncaught error in Update clears the
// enabled flag rather than letting it escape to the host tick loop.
func (s *Spawner) disable(cause error) {
	atomic.StoreInt32(&s.enabled, 0)
	s.log.Error().Err(cause).Msg("scheduler disabled after fatal error")
}

// Population exposes the Tracker for callers that need direct read access
// (e.g. an admin command surface out of this package's scope).
func (s *Spawner) Population() *population.Tracker { return s.pop }

// SpawnBot performs the synchronous cap-reservation and validation steps
// of §4.6 step 1-3, then hands off to the internal pipeline asynchronously.
// It reports true only once the attempt has been accepted for processing,
// matching the source's "synchronous success/failure, async body" shape:
// the boolean reflects whether the reservation and validation passed, and
// the eventual pipeline outcome reaches the caller only through req.Callback.
func (s *Spawner) SpawnBot(ctx context.Context, req queue.SpawnRequest) bool {
	if !s.Enabled() {
		s.failFast(req, KindValidationFailed, ErrSchedulerDisabled)
		return false
	}

	if err := s.preValidate(ctx, req); err != nil {
		s.failFast(req, KindValidationFailed, err)
		return false
	}

	cfg := s.Config()
	s.stats.recordAttempt()

	previous := s.pop.ReserveSlot()
	if cfg.RespectPopulationCaps && !req.BypassGlobalCap && previous >= int64(cfg.MaxBotsTotal) {
		s.pop.ReleaseSlot()
		s.failFast(req, KindCapExceeded, nil)
		return false
	}

	if req.ZoneID != 0 {
		if zp, ok := s.pop.Zone(req.ZoneID); ok && cfg.MaxBotsPerZone > 0 && zp.BotCount >= cfg.MaxBotsPerZone {
			s.pop.ReleaseSlot()
			s.failFast(req, KindCapExceeded, nil)
			return false
		}
	}

	// Best-effort per-map aggregation, same spirit as the per-zone check
	// above: a map's bots are the sum of BotCount across every zone
	// registered under it, so this can lag by one in-flight reservation
	// under concurrency just like the zone check does.
	if req.MapID != 0 && cfg.MaxBotsPerMap > 0 && s.pop.CountInMap(req.MapID) >= cfg.MaxBotsPerMap {
		s.pop.ReleaseSlot()
		s.failFast(req, KindCapExceeded, nil)
		return false
	}

	go s.runPipelineAndRelease(context.Background(), req)
	return true
}

// runPipelineAndRelease runs the internal spawn pipeline and rolls back
// the reservation taken in SpawnBot if the pipeline did not end in a
// tracked bot, per §4.6 step 5.
func (s *Spawner) runPipelineAndRelease(ctx context.Context, req queue.SpawnRequest) {
	defer func() {
		if r := recover(); r != nil {
			s.pop.ReleaseSlot()
			s.stats.recordSpawnFailure()
			invokeCallback(req, false, 0)
			s.log.Error().Interface("panic", r).Msg("recovered panic in spawn pipeline")
		}
	}()

	guid, zoneID, err := s.runPipeline(ctx, req)
	if err != nil {
		s.pop.ReleaseSlot()
		s.stats.recordSpawnFailure()
		reason := KindFatal.String()
		if se, ok := err.(*SpawnError); ok {
			reason = se.Kind.String()
			if se.CountsAgainstBreaker() {
				s.throt.RecordFailure(se.Kind.String())
			}
		}
		invokeCallback(req, false, 0)
		s.log.Debug().Err(err).Msg("spawn pipeline failed")

		s.deps.Telemetry.Publish(telemetry.Event{
			Type:        telemetry.SpawnFailed,
			TimestampMs: int64(s.deps.Clock.NowMs()),
			ZoneID:      req.ZoneID,
			Reason:      reason,
		})
		return
	}

	s.pop.AddBot(guid, zoneID)
	s.throt.RecordSuccess()
	s.orch.OnBotSpawned()
	s.stats.recordSpawnSuccess(s.pop.ActiveCount())
	invokeCallback(req, true, guid)

	s.deps.Telemetry.Publish(telemetry.Event{
		Type:          telemetry.SpawnSucceeded,
		TimestampMs:   int64(s.deps.Clock.NowMs()),
		CharacterGuid: guid,
		ZoneID:        zoneID,
	})
}

func invokeCallback(req queue.SpawnRequest, ok bool, guid uint64) {
	if req.Callback != nil {
		req.Callback(ok, guid)
	}
}

// failFast reports a pre-pipeline rejection (validation or cap) directly,
// without touching the breaker - per §7 these kinds never count against it.
func (s *Spawner) failFast(req queue.SpawnRequest, kind Kind, cause error) {
	s.stats.recordSpawnFailure()
	invokeCallback(req, false, 0)
	if cause != nil {
		s.log.Debug().Err(cause).Str("kind", kind.String()).Msg("spawn request rejected")
	}
}

// preValidate implements §4.6.a.
func (s *Spawner) preValidate(ctx context.Context, req queue.SpawnRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	if req.CharacterGuid != 0 {
		// Player-type verification is simplified to "the character is
		// known to Persistence at all" - a dedicated character-type
		// column is out of scope for the collaborator contracts §6
		// defines.
		exists, err := s.deps.Store.CharacterExists(ctx, req.CharacterGuid)
		if err != nil {
			return newSpawnError(KindPersistenceFailed, err)
		}
		if !exists {
			return ErrCharacterNotPlayerType
		}

		if req.AccountID != 0 {
			persistedAccount, err := s.deps.Store.AccountIDOfCharacter(ctx, req.CharacterGuid)
			if err != nil {
				return newSpawnError(KindPersistenceFailed, err)
			}
			if persistedAccount != req.AccountID {
				return ErrAccountMismatch
			}
		}
	}

	return nil
}

// SpawnBots implements §4.6's SpawnBots(reqs[]) -> count: validates each
// request, derives its priority, and enqueues it. Duplicate and invalid
// requests do not count toward the returned total.
func (s *Spawner) SpawnBots(reqs []queue.SpawnRequest) int {
	accepted := 0
	nowMs := int64(s.deps.Clock.NowMs())

	for _, req := range reqs {
		if err := req.Validate(); err != nil {
			s.log.Debug().Err(err).Msg("rejected malformed spawn request")
			continue
		}

		pr := &queue.PrioritySpawnRequest{
			Priority:    req.DerivedPriority(),
			EnqueueTime: nowMs,
			Request:     req,
		}

		if s.queue.Enqueue(pr) {
			accepted++
		}
	}

	return accepted
}

// Update is the single entry point the host tick loop calls. It never
// panics out to the caller: any uncaught error disables the scheduler
// (§7's Fatal semantics) instead of propagating.
func (s *Spawner) Update(ctx context.Context, tickDelta time.Duration, sample resource.Sample) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("fatal panic in scheduler Update")
			s.disable(nil)
		}
	}()

	if !s.Enabled() {
		return
	}

	sample.ActiveBots = int(s.pop.ActiveCount())
	before := s.monitor.PressureLevel()
	after := s.monitor.Sample(sample)
	if after != before {
		s.deps.Telemetry.Publish(telemetry.Event{
			Type:        telemetry.PressureChanged,
			TimestampMs: int64(s.deps.Clock.NowMs()),
			Detail:      after.String(),
		})
	}

	breakerBefore := s.brk.State()

	s.checkRealPlayerPresence(sample)

	s.drainQueue(ctx)

	if breakerAfter := s.brk.State(); breakerAfter != breakerBefore {
		s.deps.Telemetry.Publish(telemetry.Event{
			Type:        telemetry.BreakerTransition,
			TimestampMs: int64(s.deps.Clock.NowMs()),
			Detail:      breakerAfter.String(),
		})
	}

	if time.Since(s.lastZoneRefresh) >= s.zoneRefreshEvery {
		s.lastZoneRefresh = time.Now()
		s.reconcile()
		s.publishSnapshot()
	}
}

// publishSnapshot emits the periodic graceful-degradation telemetry event:
// pressure, breaker state, throttle rate, and queue depth, published once
// per zoneRefreshEvery tick rather than on every Update call.
func (s *Spawner) publishSnapshot() {
	snap := s.Snapshot()
	s.deps.Telemetry.Publish(telemetry.Event{
		Type:         telemetry.SnapshotPublished,
		TimestampMs:  int64(s.deps.Clock.NowMs()),
		Detail:       snap.PressureLevel.String(),
		QueueSize:    snap.QueueMetrics.Size,
		ThrottleRate: snap.ThrottleRate,
		Phase:        snap.Phase.String(),
		BreakerState: snap.BreakerState.String(),
	})
}

// checkRealPlayerPresence engages dynamic spawning once a real player has
// been observed, per §4.6 Update step 2. It is reentrancy-protected by a
// dedicated atomic flag with an RAII-style release, per §5 - the guard
// exists because this method may be invoked from more than one call site
// in a fuller host integration (e.g. a player-login hook), not only from
// Update.
func (s *Spawner) checkRealPlayerPresence(sample resource.Sample) {
	if !atomic.CompareAndSwapInt32(&s.checkingReal, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&s.checkingReal, 0)

	if atomic.LoadInt32(&s.dynamicEngaged) == 1 {
		return
	}

	hasRealPlayers := false
	for _, zp := range s.pop.Zones() {
		if zp.PlayerCount > 0 {
			hasRealPlayers = true
			break
		}
	}

	if hasRealPlayers {
		atomic.StoreInt32(&s.dynamicEngaged, 1)
		s.orch.Engage()
	}
}

// drainQueue enforces §5's mutual exclusion of the drain body via a CAS
// on a single flag, released along every exit path including panics.
func (s *Spawner) drainQueue(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&s.draining, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&s.draining, 0)

	cfg := s.Config()
	budget := cfg.SpawnBatchSize
	if budget <= 0 {
		budget = 1
	}

	for i := 0; i < budget; i++ {
		if !s.orch.ShouldSpawnNext() {
			return
		}
		if !s.throt.CanSpawnNow() {
			return
		}

		// SpawnDelayMs is a minimum inter-spawn spacing baseline: if not
		// enough time has passed since the last attempt, leave the rest
		// of the batch queued and let a later tick pick up where this one
		// left off, rather than dequeuing early.
		now := s.deps.Clock.NowTimestamp()
		if cfg.SpawnDelayMs > 0 && !s.lastSpawnAt.IsZero() &&
			now.Sub(s.lastSpawnAt) < time.Duration(cfg.SpawnDelayMs)*time.Millisecond {
			return
		}

		pr, ok := s.queue.Dequeue()
		if !ok {
			return
		}

		s.lastSpawnAt = now
		s.SpawnBot(ctx, pr.Request)
	}
}

// reconcile recomputes per-zone targets and enqueues delta spawn requests,
// per §4.6 Update step 4.
func (s *Spawner) reconcile() {
	cfg := s.Config()
	deltas := s.pop.RecomputeTargets(population.TargetInputs{
		Dynamic:            cfg.EnableDynamicSpawning,
		BotToPlayerRatio:   cfg.BotToPlayerRatio,
		MinimumBotsPerZone: cfg.MinimumBotsPerZone,
	})

	var fills []queue.SpawnRequest
	for _, d := range deltas {
		if d.Delta <= 0 {
			continue
		}
		for n := 0; n < d.Delta; n++ {
			fills = append(fills, queue.SpawnRequest{
				Kind:   queue.SpecificZone,
				ZoneID: d.ZoneID,
				MapID:  d.MapID,
			})
		}
	}

	if len(fills) > 0 {
		s.SpawnBots(fills)
	}
}

// DespawnBot implements §4.6's DespawnBot: removes characterGuid from
// tracking, releases its session exactly once, and updates stats.
func (s *Spawner) DespawnBot(ctx context.Context, characterGuid uint64, accountID uint64) bool {
	_, existed := s.pop.RemoveBot(characterGuid)
	if !existed {
		return false
	}

	if err := s.deps.Sessions.ReleaseSession(ctx, accountID, characterGuid); err != nil {
		s.log.Warn().Err(err).Uint64("character_guid", characterGuid).Msg("session release failed during despawn")
	}

	s.stats.recordDespawn(s.pop.ActiveCount())
	s.deps.Telemetry.Publish(telemetry.Event{
		Type:          telemetry.Despawned,
		TimestampMs:   int64(s.deps.Clock.NowMs()),
		CharacterGuid: characterGuid,
	})
	return true
}

// DespawnAllBots implements §4.6's DespawnAllBots: an atomic swap of both
// tracking maps followed by a lock-free release pass over the isolated
// snapshot, per §5's mass-clearing discipline.
func (s *Spawner) DespawnAllBots(ctx context.Context) {
	snapshot := s.pop.DespawnAll()

	for guid := range snapshot {
		accountID, err := s.deps.Store.AccountIDOfCharacter(ctx, guid)
		if err != nil {
			s.log.Warn().Err(err).Uint64("character_guid", guid).Msg("account lookup failed during mass despawn")
			continue
		}
		if err := s.deps.Sessions.ReleaseSession(ctx, accountID, guid); err != nil {
			s.log.Warn().Err(err).Uint64("character_guid", guid).Msg("session release failed during mass despawn")
		}

		s.stats.recordDespawn(0)
	}
}

// Snapshot returns a read-only point-in-time view for telemetry/admin
// surfaces.
func (s *Spawner) Snapshot() Snapshot {
	return Snapshot{
		Stats:         s.stats.Snapshot(),
		PressureLevel: s.monitor.PressureLevel(),
		BreakerState:  s.brk.State(),
		ThrottleRate:  s.throt.CurrentRate(),
		QueueMetrics:  s.queue.Metrics(),
		Phase:         s.orch.CurrentPhase(),
		Enabled:       s.Enabled(),
	}
}
