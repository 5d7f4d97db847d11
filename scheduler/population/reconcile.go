package population

// TargetInputs carries the config knobs the reconciliation loop needs; the
// Spawner Core owns Config, population only consumes the values relevant
// to target computation.
type TargetInputs struct {
	Dynamic           bool
	BotToPlayerRatio  float64
	MinimumBotsPerZone int
}

// ZoneDelta describes how many additional bots a zone needs (positive) or
// how many are surplus (negative, informational only - the scheduler never
// force-despawns purely for being over target).
type ZoneDelta struct {
	ZoneID uint32
	MapID  uint32
	Delta  int
}

// RecomputeTargets walks every known zone, recomputes TargetBotCount from
// the current player count (or the static floor when dynamic spawning is
// disabled), and returns the per-zone deltas against the live bot count.
func (t *Tracker) RecomputeTargets(in TargetInputs) []ZoneDelta {
	t.zonesMu.Lock()
	defer t.zonesMu.Unlock()

	deltas := make([]ZoneDelta, 0, len(t.zonePopulations))

	for zoneID, zp := range t.zonePopulations {
		if in.Dynamic {
			zp.TargetBotCount = int(float64(zp.PlayerCount) * in.BotToPlayerRatio)
			if zp.PlayerCount > 0 && zp.TargetBotCount < in.MinimumBotsPerZone {
				zp.TargetBotCount = in.MinimumBotsPerZone
			}
		} else {
			zp.TargetBotCount = in.MinimumBotsPerZone
		}

		if delta := zp.TargetBotCount - zp.BotCount; delta != 0 {
			deltas = append(deltas, ZoneDelta{ZoneID: zoneID, MapID: zp.MapID, Delta: delta})
		}
	}

	return deltas
}
