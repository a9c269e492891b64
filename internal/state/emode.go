package state

import (
	"MarginLedger/internal/errcode"
	fpmath "MarginLedger/internal/math"
	"fmt"
	"sort"
)

const (
	MaxEmodeEntries = 10
	// EmodeTagEmpty marks an unused entry; a bank with this tag has no emode class.
	EmodeTagEmpty uint16 = 0
)

// EmodeEntry flags.
const (
	EmodeAppliesToIsolated uint8 = 1 << 0
)

var emodeMaxMaintWeight = fpmath.FromInt(2)

// EmodeEntry grants collateral from banks tagged CollateralTag an alternate
// weight when borrowing from the bank that owns the entry.
type EmodeEntry struct {
	CollateralTag    uint16        `json:"collateral_tag"`
	Flags            uint8         `json:"flags"`
	AssetWeightInit  fpmath.I80F48 `json:"asset_weight_init"`
	AssetWeightMaint fpmath.I80F48 `json:"asset_weight_maint"`
}

func (e EmodeEntry) IsEmpty() bool { return e.CollateralTag == EmodeTagEmpty }

func (e EmodeEntry) validate() error {
	if e.AssetWeightInit.IsNegative() || e.AssetWeightInit.GreaterThan(fpmath.One) {
		return fmt.Errorf("emode tag %d init weight %s outside [0, 1]: %w", e.CollateralTag, e.AssetWeightInit, errcode.ErrBadEmodeConfig)
	}
	if e.AssetWeightMaint.GreaterThan(emodeMaxMaintWeight) {
		return fmt.Errorf("emode tag %d maint weight %s above 2: %w", e.CollateralTag, e.AssetWeightMaint, errcode.ErrBadEmodeConfig)
	}
	if e.AssetWeightMaint.LessThan(e.AssetWeightInit) {
		return fmt.Errorf("emode tag %d maint weight below init: %w", e.CollateralTag, errcode.ErrBadEmodeConfig)
	}
	return nil
}

// EmodeConfig is a fixed table kept sorted by tag with empty slots last.
type EmodeConfig struct {
	Entries [MaxEmodeEntries]EmodeEntry `json:"entries"`
}

// NewEmodeConfig sorts entries by tag, drops empty ones and validates the rest.
func NewEmodeConfig(entries []EmodeEntry) (EmodeConfig, error) {
	var cfg EmodeConfig
	live := make([]EmodeEntry, 0, len(entries))
	for _, e := range entries {
		if !e.IsEmpty() {
			live = append(live, e)
		}
	}
	if len(live) > MaxEmodeEntries {
		return cfg, fmt.Errorf("%d emode entries, max %d: %w", len(live), MaxEmodeEntries, errcode.ErrBadEmodeConfig)
	}
	sort.Slice(live, func(i, j int) bool { return live[i].CollateralTag < live[j].CollateralTag })
	copy(cfg.Entries[:], live)
	if err := cfg.Validate(); err != nil {
		return EmodeConfig{}, err
	}
	return cfg, nil
}

// Validate checks weights, ordering and uniqueness of tags.
func (c *EmodeConfig) Validate() error {
	seenEmpty := false
	var prev uint16
	for i, e := range c.Entries {
		if e.IsEmpty() {
			seenEmpty = true
			continue
		}
		if seenEmpty {
			return fmt.Errorf("emode entry %d follows an empty slot: %w", i, errcode.ErrBadEmodeConfig)
		}
		if i > 0 && e.CollateralTag <= prev {
			return fmt.Errorf("emode tag %d duplicated or unsorted: %w", e.CollateralTag, errcode.ErrBadEmodeConfig)
		}
		if err := e.validate(); err != nil {
			return err
		}
		prev = e.CollateralTag
	}
	return nil
}

func (c *EmodeConfig) HasEntries() bool {
	return !c.Entries[0].IsEmpty()
}

// FindWithTag returns the entry for tag. The empty tag never matches.
func (c *EmodeConfig) FindWithTag(tag uint16) (EmodeEntry, bool) {
	if tag == EmodeTagEmpty {
		return EmodeEntry{}, false
	}
	for _, e := range c.Entries {
		if e.IsEmpty() {
			break
		}
		if e.CollateralTag == tag {
			return e, true
		}
	}
	return EmodeEntry{}, false
}

// EmodeSettings is a bank's own emode class plus the table it offers.
type EmodeSettings struct {
	Tag       uint16      `json:"tag"`
	Config    EmodeConfig `json:"config"`
	Timestamp int64       `json:"timestamp"`
}

// Enabled is derived from the table rather than stored.
func (s *EmodeSettings) Enabled() bool { return s.Config.HasEntries() }

// ReconcileEmodeConfigs intersects the tables of every bank an account owes
// into. A tag survives only if all tables carry it; its weights and flags are
// the minimum across tables. No tables yields an empty table.
func ReconcileEmodeConfigs(configs []EmodeConfig) EmodeConfig {
	var out EmodeConfig
	if len(configs) == 0 {
		return out
	}

	type merged struct {
		entry EmodeEntry
		count int
	}
	byTag := make(map[uint16]*merged)
	for _, cfg := range configs {
		for _, e := range cfg.Entries {
			if e.IsEmpty() {
				continue
			}
			m, ok := byTag[e.CollateralTag]
			if !ok {
				byTag[e.CollateralTag] = &merged{entry: e, count: 1}
				continue
			}
			if e.Flags < m.entry.Flags {
				m.entry.Flags = e.Flags
			}
			m.entry.AssetWeightInit = fpmath.Min(m.entry.AssetWeightInit, e.AssetWeightInit)
			m.entry.AssetWeightMaint = fpmath.Min(m.entry.AssetWeightMaint, e.AssetWeightMaint)
			m.count++
		}
	}

	survivors := make([]EmodeEntry, 0, len(byTag))
	for _, m := range byTag {
		if m.count == len(configs) {
			survivors = append(survivors, m.entry)
		}
	}
	sort.Slice(survivors, func(i, j int) bool { return survivors[i].CollateralTag < survivors[j].CollateralTag })
	copy(out.Entries[:], survivors)
	return out
}
