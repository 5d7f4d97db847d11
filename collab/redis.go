package collab

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
)

// RedisPersistence is the production Persistence adapter (names are
// reserved by the separate RedisNameAllocator below), backed by redis the same way the teacher's state.go leans on HMSet/HSet/
// Scan for guild/member/channel bookkeeping. Keys are namespaced under
// Prefix exactly like the teacher's "%s:guild:%s:members" construction.
type RedisPersistence struct {
	Client *redis.Client
	Prefix string
}

// NewRedisPersistence wraps an existing *redis.Client.
func NewRedisPersistence(client *redis.Client, prefix string) *RedisPersistence {
	return &RedisPersistence{Client: client, Prefix: prefix}
}

func (r *RedisPersistence) key(parts ...string) string {
	key := r.Prefix
	for _, p := range parts {
		key += ":" + p
	}
	return key
}

// accountCharsKey is the redis set of character ids owned by an account.
func (r *RedisPersistence) accountCharsKey(accountID uint64) string {
	return r.key("account", strconv.FormatUint(accountID, 10), "characters")
}

// characterRowKey is the redis hash holding one character's denormalized
// row (account id, level, race, class) for filtered lookups without a
// second round trip per candidate.
func (r *RedisPersistence) characterRowKey(characterID uint64) string {
	return r.key("character", strconv.FormatUint(characterID, 10))
}

// CharactersByAccount implements collab.Persistence. It is the one
// genuinely asynchronous-shaped call in the adapter: callers are expected
// to invoke it from a goroutine, as the character-selection pipeline does.
func (r *RedisPersistence) CharactersByAccount(ctx context.Context, accountID uint64, filter CharacterFilter) ([]uint64, error) {
	ids, err := r.Client.SMembers(ctx, r.accountCharsKey(accountID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	out := make([]uint64, 0, len(ids))
	for _, idStr := range ids {
		cid, convErr := strconv.ParseUint(idStr, 10, 64)
		if convErr != nil {
			continue
		}

		row, rowErr := r.Client.HGetAll(ctx, r.characterRowKey(cid)).Result()
		if rowErr != nil {
			continue
		}

		level, _ := strconv.Atoi(row["level"])
		race, _ := strconv.Atoi(row["race"])
		class, _ := strconv.Atoi(row["class"])

		if filter.MaxLevel != 0 && (uint8(level) < filter.MinLevel || uint8(level) > filter.MaxLevel) {
			continue
		}
		if filter.Race != 0 && uint8(race) != filter.Race {
			continue
		}
		if filter.Class != 0 && uint8(class) != filter.Class {
			continue
		}

		out = append(out, cid)
	}

	return out, nil
}

// AccountIDOfCharacter implements collab.Persistence.
func (r *RedisPersistence) AccountIDOfCharacter(ctx context.Context, characterID uint64) (uint64, error) {
	val, err := r.Client.HGet(ctx, r.characterRowKey(characterID), "account_id").Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(val, 10, 64)
}

// SumCharactersOnAccount implements collab.Persistence. It only counts the
// account's characters; the hard per-account limit described in §4.6.e is
// enforced by the caller against this count.
func (r *RedisPersistence) SumCharactersOnAccount(ctx context.Context, accountID uint64) (int, error) {
	n, err := r.Client.SCard(ctx, r.accountCharsKey(accountID)).Result()
	return int(n), err
}

// CharacterExists implements collab.Persistence.
func (r *RedisPersistence) CharacterExists(ctx context.Context, characterID uint64) (bool, error) {
	n, err := r.Client.Exists(ctx, r.characterRowKey(characterID)).Result()
	return n > 0, err
}

// redisTx batches writes and flushes them in a single pipeline on Commit,
// standing in for the two-database transaction the original schema used.
// The statement vocabulary is the domain-level set character creation
// needs (§4.6.e step 10), not raw redis commands, so any Persistence
// adapter (redis-backed or in-memory) can implement the same Tx contract.
type redisTx struct {
	store *RedisPersistence
	ctx   context.Context
	pipe  redis.Pipeliner
}

// BeginTx implements collab.Persistence.
func (r *RedisPersistence) BeginTx(ctx context.Context, database string) (Tx, error) {
	return &redisTx{store: r, ctx: ctx, pipe: r.Client.TxPipeline()}, nil
}

// CreateCharacterStmt is the args[0] payload for the "create_character"
// statement.
type CreateCharacterStmt struct {
	CharacterID uint64
	AccountID   uint64
	Name        string
	Level, Race, Class uint8
}

// AddCharacterToAccountStmt is the args[0] payload for the
// "add_character_to_account" statement.
type AddCharacterToAccountStmt struct {
	AccountID, CharacterID uint64
}

// Append queues one of the domain-level statements character creation
// issues: "create_character", "add_character_to_account", or
// "increment_realm_character_count".
func (tx *redisTx) Append(stmt string, args ...interface{}) error {
	switch stmt {
	case "create_character":
		s := args[0].(CreateCharacterStmt)
		tx.pipe.HSet(tx.ctx, tx.store.characterRowKey(s.CharacterID),
			"account_id", s.AccountID, "level", s.Level, "race", s.Race, "class", s.Class, "name", s.Name)
	case "add_character_to_account":
		s := args[0].(AddCharacterToAccountStmt)
		tx.pipe.SAdd(tx.ctx, tx.store.accountCharsKey(s.AccountID), s.CharacterID)
	case "increment_realm_character_count":
		tx.pipe.Incr(tx.ctx, tx.store.key("realm_character_count"))
	default:
		return fmt.Errorf("collab: unsupported tx statement %q", stmt)
	}
	return nil
}

func (tx *redisTx) Commit(ctx context.Context) error {
	_, err := tx.pipe.Exec(ctx)
	return err
}

func (tx *redisTx) Rollback(ctx context.Context) error {
	tx.pipe.Discard()
	return nil
}

// RedisNameAllocator reserves unique character names via SETNX, releasing
// them with DEL - the same atomic-reservation shape as the teacher's
// ConcurrencyLimiter tickets, applied to name uniqueness instead of
// concurrent identify slots.
type RedisNameAllocator struct {
	Client *redis.Client
	Prefix string
	Pool   []string
}

// NewRedisNameAllocator creates an allocator drawing from a candidate name
// pool, reserved in redis so multiple scheduler instances never collide.
func NewRedisNameAllocator(client *redis.Client, prefix string, pool []string) *RedisNameAllocator {
	return &RedisNameAllocator{Client: client, Prefix: prefix, Pool: pool}
}

func (a *RedisNameAllocator) nameKey(name string) string {
	return fmt.Sprintf("%s:name:%s", a.Prefix, name)
}

// Allocate implements collab.NameAllocator.
func (a *RedisNameAllocator) Allocate(ctx context.Context, gender uint8, characterIDHint uint64) (string, error) {
	for _, name := range a.Pool {
		ok, err := a.Client.SetNX(ctx, a.nameKey(name), characterIDHint, 0).Result()
		if err != nil {
			return "", err
		}
		if ok {
			return name, nil
		}
	}
	return "", ErrNoNamesAvailable
}

// Release implements collab.NameAllocator.
func (a *RedisNameAllocator) Release(ctx context.Context, name string) error {
	return a.Client.Del(ctx, a.nameKey(name)).Err()
}

// ZoneDistributionConfig is the persisted zone-distribution configuration
// named in §6: per-zone weights and the static minimum-bots-per-zone floor.
type ZoneDistributionConfig struct {
	Weights            map[uint32]int
	MinimumBotsPerZone int
}

// LoadZoneDistribution reads the zone-distribution configuration hash from
// redis, keyed "<prefix>:zonedist".
func (r *RedisPersistence) LoadZoneDistribution(ctx context.Context) (ZoneDistributionConfig, error) {
	row, err := r.Client.HGetAll(ctx, r.key("zonedist")).Result()
	if err != nil && err != redis.Nil {
		return ZoneDistributionConfig{}, err
	}

	cfg := ZoneDistributionConfig{Weights: make(map[uint32]int)}
	for zoneStr, weightStr := range row {
		if zoneStr == "minimum_bots_per_zone" {
			cfg.MinimumBotsPerZone, _ = strconv.Atoi(weightStr)
			continue
		}
		zoneID, err := strconv.ParseUint(zoneStr, 10, 32)
		if err != nil {
			continue
		}
		weight, _ := strconv.Atoi(weightStr)
		cfg.Weights[uint32(zoneID)] = weight
	}
	return cfg, nil
}
