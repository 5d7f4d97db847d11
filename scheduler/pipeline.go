package scheduler

import (
	"context"
	"math/rand"
	"sort"
	"sync/atomic"
	"time"

	"github.com/TheRockettek/bot-spawn-scheduler/collab"
	"github.com/TheRockettek/bot-spawn-scheduler/scheduler/queue"
)

// nextCharacterID is a process-wide monotonic source for freshly created
// character identifiers. A real server assigns these from the character
// database's own sequence; no such collaborator is part of the six
// external interfaces §6 names, so a local atomic counter stands in,
// seeded from the wall clock at package init to avoid colliding with a
// previous process run's low identifiers.
var nextCharacterID uint64 = uint64(time.Now().UnixNano())

func freshCharacterID() uint64 {
	return atomic.AddUint64(&nextCharacterID, 1)
}

// runPipeline implements §4.6.c, the internal spawn pipeline. It returns
// the selected character and the zone it should be tracked under.
func (s *Spawner) runPipeline(ctx context.Context, req queue.SpawnRequest) (guid uint64, zoneID uint32, err error) {
	guid = req.CharacterGuid
	if guid == 0 {
		guid, err = s.selectCharacter(ctx, req)
		if err != nil {
			return 0, 0, err
		}
	}

	accountID := req.AccountID
	if accountID == 0 {
		accountID, err = s.deps.Store.AccountIDOfCharacter(ctx, guid)
		if err != nil {
			return 0, 0, newSpawnError(KindPersistenceFailed, err)
		}
	}
	if accountID == 0 {
		return 0, 0, newSpawnError(KindNoCandidate, ErrNoAccountAvailable)
	}

	ok, err := s.deps.Sessions.CreateSession(ctx, accountID, guid, req.BypassGlobalCap)
	if err != nil {
		return 0, 0, newSpawnError(KindSessionCreationFailed, err)
	}
	if !ok {
		return 0, 0, newSpawnError(KindSessionCreationFailed, nil)
	}

	// Zone assignment for requests that did not name one: tracked under
	// zone 0, the "unassigned" bucket - SpawnBot's per-zone cap check and
	// reconciliation never target zone 0 directly, so this never
	// interferes with the per-zone population model.
	zoneID = req.ZoneID

	return guid, zoneID, nil
}

// selectCharacter implements §4.6.d, the asynchronous character selection
// step.
func (s *Spawner) selectCharacter(ctx context.Context, req queue.SpawnRequest) (uint64, error) {
	accountID := req.AccountID
	if accountID == 0 {
		var err error
		accountID, err = s.deps.Accounts.AcquireAccount(ctx)
		if err != nil {
			return 0, newSpawnError(KindNoCandidate, err)
		}
	}
	if accountID == 0 {
		return 0, newSpawnError(KindNoCandidate, ErrNoAccountAvailable)
	}

	filter := collab.CharacterFilter{
		MinLevel: req.MinLevel,
		MaxLevel: req.MaxLevel,
		Race:     req.Race,
		Class:    req.Class,
	}

	candidates, err := s.deps.Store.CharactersByAccount(ctx, accountID, filter)
	if err != nil {
		return 0, newSpawnError(KindPersistenceFailed, err)
	}

	if len(candidates) > 0 {
		// Deterministic lowest-identifier selection minimizes
		// duplicate-session races across concurrent selections against
		// the same account; a uniform random fallback is only safe once
		// a reservation scheme for in-flight selections exists, which is
		// out of scope here, so the deterministic path is always taken.
		// Characters already tracked as active are skipped; two selections
		// in flight at the same moment can still pick the same character.
		sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })
		for _, c := range candidates {
			if !s.pop.Contains(c) {
				return c, nil
			}
		}
	}

	cfg := s.Config()
	if !cfg.AutoCreateCharacters {
		return 0, newSpawnError(KindNoCandidate, ErrNoCharacterSelected)
	}

	return s.createCharacter(ctx, accountID, req)
}

// createCharacter implements §4.6.e's thirteen steps.
func (s *Spawner) createCharacter(ctx context.Context, accountID uint64, req queue.SpawnRequest) (uint64, error) {
	cfg := s.Config()

	// Step 2: per-account character limit. Step 1 (verifying the account
	// exists in the Account Source) is folded into this same call -
	// AccountSource exposes only AcquireAccount per §6, so a successful
	// SumCharactersOnAccount query against accountID is treated as
	// existence confirmation.
	count, err := s.deps.Store.SumCharactersOnAccount(ctx, accountID)
	if err != nil {
		return 0, newSpawnError(KindPersistenceFailed, err)
	}
	limit := cfg.MaxCharactersPerAccount
	if limit <= 0 {
		limit = 10
	}
	if count >= limit {
		return 0, newSpawnError(KindNoCandidate, nil)
	}

	// Step 3: sample and validate (race, class).
	race, class := req.Race, req.Class
	if race == 0 && class == 0 {
		race, class, err = s.deps.Distribution.SampleRaceClass(ctx)
		if err != nil {
			return 0, newSpawnError(KindNoCandidate, err)
		}
	}
	if race == 0 && class == 0 {
		return 0, newSpawnError(KindNoCandidate, nil)
	}
	if s.deps.RaceClass != nil && !s.deps.RaceClass.Allows(race, class) {
		return 0, newSpawnError(KindValidationFailed, nil)
	}

	// Step 4: gender, sampled uniformly.
	gender := uint8(rand.Intn(2))

	// Step 5: fresh character identifier.
	characterID := freshCharacterID()

	// Step 6: allocate a unique name.
	name, err := s.deps.Names.Allocate(ctx, gender, characterID)
	if err != nil || name == "" {
		return 0, newSpawnError(KindNoCandidate, err)
	}

	// Step 7: minimal customization set. The chosen options are not
	// themselves persisted by this scheduler - the full character row
	// schema is out of scope per spec.md §1 - but the sampling must
	// succeed for a valid character to result.
	if s.deps.Customization != nil {
		s.deps.Customization.MinimalSet(race, gender)
	}

	// Steps 8-9 (transient session/character object construction, its
	// Create() call, and relocating a degenerate starting position) bind
	// to in-world character/session objects that are explicitly out of
	// scope per spec.md §1 ("in-world AI behavior" and the full
	// persistence schema); the scheduler's contribution ends at handing
	// Session Manager a (account, character) pair to materialize, which
	// happens back in runPipeline.

	const level = 1

	if err := s.commitNewCharacter(ctx, characterID, accountID, name, level, race, class); err != nil {
		_ = s.deps.Names.Release(ctx, name)
		return 0, err
	}

	if err := s.pollCharacterExists(ctx, characterID); err != nil {
		_ = s.deps.Names.Release(ctx, name)
		return 0, err
	}

	if err := s.deps.Cache.Register(ctx, characterID, name, level, race, class, gender); err != nil {
		s.log.Warn().Err(err).Uint64("character_guid", characterID).Msg("character cache registration failed")
	}

	return characterID, nil
}

// commitNewCharacter implements §4.6.e step 10: a transaction opened
// against both the character and account databases, persisting the new
// row, bumping the realm character count, and committing. Both named
// databases may be served by the same Persistence value (as both adapters
// in this repository do); BeginTx's database argument exists so a split
// deployment can route the two transactions elsewhere.
func (s *Spawner) commitNewCharacter(ctx context.Context, characterID, accountID uint64, name string, level, race, class uint8) error {
	charTx, err := s.deps.Store.BeginTx(ctx, "character")
	if err != nil {
		return newSpawnError(KindPersistenceFailed, err)
	}

	if err := charTx.Append("create_character", collab.CreateCharacterStmt{
		CharacterID: characterID,
		AccountID:   accountID,
		Name:        name,
		Level:       level,
		Race:        race,
		Class:       class,
	}); err != nil {
		_ = charTx.Rollback(ctx)
		return newSpawnError(KindPersistenceFailed, err)
	}

	acctTx, err := s.deps.Store.BeginTx(ctx, "account")
	if err != nil {
		_ = charTx.Rollback(ctx)
		return newSpawnError(KindPersistenceFailed, err)
	}

	if err := acctTx.Append("add_character_to_account", collab.AddCharacterToAccountStmt{
		AccountID:   accountID,
		CharacterID: characterID,
	}); err != nil {
		_ = charTx.Rollback(ctx)
		_ = acctTx.Rollback(ctx)
		return newSpawnError(KindPersistenceFailed, err)
	}
	if err := acctTx.Append("increment_realm_character_count"); err != nil {
		_ = charTx.Rollback(ctx)
		_ = acctTx.Rollback(ctx)
		return newSpawnError(KindPersistenceFailed, err)
	}

	if err := charTx.Commit(ctx); err != nil {
		_ = acctTx.Rollback(ctx)
		return newSpawnError(KindPersistenceFailed, err)
	}
	if err := acctTx.Commit(ctx); err != nil {
		return newSpawnError(KindPersistenceFailed, err)
	}

	return nil
}

// pollCharacterExists implements §4.6.e step 11 and §5's bounded polling
// requirement: up to 100 retries at 50ms spacing (~5 seconds total).
func (s *Spawner) pollCharacterExists(ctx context.Context, characterID uint64) error {
	const retries = 100
	const interval = 50 * time.Millisecond

	for i := 0; i < retries; i++ {
		exists, err := s.deps.Store.CharacterExists(ctx, characterID)
		if err != nil {
			return newSpawnError(KindPersistenceFailed, err)
		}
		if exists {
			return nil
		}

		select {
		case <-ctx.Done():
			return newSpawnError(KindPersistenceFailed, ctx.Err())
		case <-time.After(interval):
		}
	}

	return newSpawnError(KindPersistenceFailed, nil)
}
