package collab

import (
	"context"
	"math/rand"
	"sync"
)

// RaceClassPair is one valid (race, class) combination a static reference
// table permits.
type RaceClassPair struct {
	Race, Class uint8
	Weight      int
}

// RaceClassTable validates sampled (race, class) pairs against the static
// reference data a real server would load from DBC/DB2 tables. Here it is
// the minimal, explicit static table the spec calls for.
type RaceClassTable struct {
	valid map[[2]uint8]bool
}

// NewRaceClassTable builds a lookup table from the allowed pairs.
func NewRaceClassTable(pairs []RaceClassPair) *RaceClassTable {
	t := &RaceClassTable{valid: make(map[[2]uint8]bool, len(pairs))}
	for _, p := range pairs {
		t.valid[[2]uint8{p.Race, p.Class}] = true
	}
	return t
}

// Allows reports whether (race, class) is a valid combination.
func (t *RaceClassTable) Allows(race, class uint8) bool {
	return t.valid[[2]uint8{race, class}]
}

// CustomizationOption is one valid choice for a customization slot.
type CustomizationOption struct {
	Slot  string
	Value uint8
}

// CustomizationTables holds, per (race, gender), the minimal set of valid
// customization choices character creation must pick from so every newly
// created bot has at least one valid choice per option the reference data
// defines.
type CustomizationTables struct {
	mu      sync.Mutex
	options map[[2]uint8][]CustomizationOption
}

// NewCustomizationTables builds tables from a (race, gender) -> options map.
func NewCustomizationTables(options map[[2]uint8][]CustomizationOption) *CustomizationTables {
	return &CustomizationTables{options: options}
}

// MinimalSet returns one valid choice per customization slot defined for
// (race, gender). If no table entry exists, an empty (but valid) set is
// returned - character creation treats that as "no customization options
// configured for this combination" rather than a failure.
func (c *CustomizationTables) MinimalSet(race, gender uint8) []CustomizationOption {
	c.mu.Lock()
	defer c.mu.Unlock()

	opts, ok := c.options[[2]uint8{race, gender}]
	if !ok {
		return nil
	}

	seenSlot := make(map[string]bool, len(opts))
	out := make([]CustomizationOption, 0, len(opts))
	for _, o := range opts {
		if seenSlot[o.Slot] {
			continue
		}
		seenSlot[o.Slot] = true
		out = append(out, o)
	}
	return out
}

// WeightedCharacterDistribution samples a (race, class) pair with
// probability proportional to its configured weight. Pairs are validated
// against a RaceClassTable once, at construction; pairs the table rejects
// are dropped and never sampled.
type WeightedCharacterDistribution struct {
	mu     sync.Mutex
	pairs  []RaceClassPair
	table  *RaceClassTable
	rng    *rand.Rand
	total  int
}

// NewWeightedCharacterDistribution builds a distribution from pairs,
// validating each against table at construction time.
func NewWeightedCharacterDistribution(pairs []RaceClassPair, table *RaceClassTable, seed int64) *WeightedCharacterDistribution {
	total := 0
	valid := make([]RaceClassPair, 0, len(pairs))
	for _, p := range pairs {
		if p.Weight <= 0 || !table.Allows(p.Race, p.Class) {
			continue
		}
		valid = append(valid, p)
		total += p.Weight
	}
	return &WeightedCharacterDistribution{
		pairs: valid,
		table: table,
		rng:   rand.New(rand.NewSource(seed)),
		total: total,
	}
}

// SampleRaceClass implements CharacterDistribution. (0, 0) is returned when
// the distribution has no valid weighted pairs configured.
func (d *WeightedCharacterDistribution) SampleRaceClass(ctx context.Context) (race, class uint8, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.total <= 0 {
		return 0, 0, nil
	}

	roll := d.rng.Intn(d.total)
	for _, p := range d.pairs {
		roll -= p.Weight
		if roll < 0 {
			return p.Race, p.Class, nil
		}
	}
	return 0, 0, nil
}
