// Package npc implements the NPC manager: perception, threat-driven target
// selection, pack assist, guard escalation, pursuit with leashing, fear
// flee, sanctuary rules, and AI brain dispatch.
package npc

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Behavior classifies a prototype's baseline disposition.
type Behavior string

const (
	BehaviorAggressive Behavior = "aggressive"
	BehaviorGuard      Behavior = "guard"
	BehaviorCoward     Behavior = "coward"
	BehaviorPassive    Behavior = "passive"
)

// validBehaviors guards catalog validation.
var validBehaviors = map[Behavior]bool{
	BehaviorAggressive: true,
	BehaviorGuard:      true,
	BehaviorCoward:     true,
	BehaviorPassive:    true,
}

// LootEntry is one roll in a prototype's drop table.
type LootEntry struct {
	ItemID string  `yaml:"item_id"`
	Chance float64 `yaml:"chance"`
	MinQty int     `yaml:"min_qty"`
	MaxQty int     `yaml:"max_qty"`
}

// TauntLine is a flavor line an NPC may bark when engaging.
type TauntLine struct {
	Text string `yaml:"text"`
	// Chance gates the bark per engagement; 0 means never.
	Chance float64 `yaml:"chance"`
	// CooldownMs suppresses repeats of this line per NPC.
	CooldownMs int `yaml:"cooldown_ms"`
}

// GuardProfile tunes guard behavior for guard-typed prototypes.
type GuardProfile struct {
	// CallRadius is the room-grid radius for guard help calls.
	CallRadius int `yaml:"call_radius"`
	// RecaptureSweep lets the guard hunt sanctuary intruders.
	RecaptureSweep bool `yaml:"recapture_sweep"`
}

// Prototype is one NPC archetype from the content catalog.
type Prototype struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Model string `yaml:"model"`
	MaxHP int    `yaml:"max_hp"`
	// Level drives melee damage and the default xp reward.
	Level    int      `yaml:"level"`
	Behavior Behavior `yaml:"behavior"`
	// Tags carry service roles, resource kinds, and pack membership
	// ("non_hostile", "resource_ore", "beast", "service_banker", ...).
	Tags []string `yaml:"tags"`
	// GroupID names the assist pack; empty means no pack.
	GroupID     string `yaml:"group_id"`
	CanCallHelp bool   `yaml:"can_call_help"`
	CanGate     bool   `yaml:"can_gate"`
	// XPReward overrides the level-derived reward when > 0.
	XPReward int          `yaml:"xp_reward"`
	Loot     []LootEntry  `yaml:"loot"`
	Taunts   []TauntLine  `yaml:"taunts"`
	Guard    GuardProfile `yaml:"guard"`
	// BrainScript names a Lua brain overriding the built-in behavior brain.
	BrainScript string `yaml:"brain_script"`
}

// HasTag reports whether the prototype carries the given tag.
func (p *Prototype) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// IsResource reports whether the prototype is a gatherable resource
// (any tag with the "resource" prefix).
func (p *Prototype) IsResource() bool {
	for _, t := range p.Tags {
		if strings.HasPrefix(t, "resource") {
			return true
		}
	}
	return false
}

// IsService reports whether the prototype is a protected service NPC.
func (p *Prototype) IsService() bool {
	for _, t := range p.Tags {
		if strings.HasPrefix(t, "service") {
			return true
		}
	}
	return false
}

// IsBeast reports whether the prototype uses the beast corpse timing.
func (p *Prototype) IsBeast() bool {
	return p.HasTag("beast") || p.HasTag("critter")
}

// Hostile reports baseline hostility before regional vetoes: aggressive,
// guard, and coward dispositions are hostile unless tagged otherwise.
func (p *Prototype) Hostile() bool {
	switch p.Behavior {
	case BehaviorAggressive, BehaviorGuard, BehaviorCoward:
	default:
		return false
	}
	return !p.HasTag("non_hostile") && !p.IsResource()
}

// DerivedXPReward returns the explicit reward or the level formula.
func (p *Prototype) DerivedXPReward() int {
	if p.XPReward > 0 {
		return p.XPReward
	}
	return 5 + p.Level*3
}

// Validate checks the prototype's invariants.
//
// Postcondition: Returns nil if the prototype is valid, or an error
// describing all violations.
func (p *Prototype) Validate() error {
	var errs []string
	if p.ID == "" {
		errs = append(errs, "id must not be empty")
	}
	if p.Name == "" {
		errs = append(errs, "name must not be empty")
	}
	if p.MaxHP < 1 {
		errs = append(errs, fmt.Sprintf("max_hp must be >= 1, got %d", p.MaxHP))
	}
	if p.Level < 0 {
		errs = append(errs, fmt.Sprintf("level must be >= 0, got %d", p.Level))
	}
	if !validBehaviors[p.Behavior] {
		errs = append(errs, fmt.Sprintf("behavior must be one of [aggressive, guard, coward, passive], got %q", p.Behavior))
	}
	if p.CanCallHelp && p.GroupID == "" {
		errs = append(errs, "can_call_help requires a group_id")
	}
	for i, l := range p.Loot {
		if l.ItemID == "" {
			errs = append(errs, fmt.Sprintf("loot[%d].item_id must not be empty", i))
		}
		if l.Chance < 0 || l.Chance > 1 {
			errs = append(errs, fmt.Sprintf("loot[%d].chance must be in [0, 1], got %f", i, l.Chance))
		}
		if l.MinQty < 1 || l.MaxQty < l.MinQty {
			errs = append(errs, fmt.Sprintf("loot[%d] quantities must satisfy 1 <= min <= max", i))
		}
	}
	for i, t := range p.Taunts {
		if t.Text == "" {
			errs = append(errs, fmt.Sprintf("taunts[%d].text must not be empty", i))
		}
		if t.Chance < 0 || t.Chance > 1 {
			errs = append(errs, fmt.Sprintf("taunts[%d].chance must be in [0, 1], got %f", i, t.Chance))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("prototype %q invalid: %s", p.ID, strings.Join(errs, "; "))
	}
	return nil
}

// Catalog is the loaded prototype set, keyed by id.
type Catalog struct {
	byID map[string]*Prototype
}

// NewCatalog builds a catalog from the given prototypes.
//
// Postcondition: Returns an error on any invalid or duplicate prototype.
func NewCatalog(protos []*Prototype) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]*Prototype, len(protos))}
	for _, p := range protos {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate prototype id %q", p.ID)
		}
		c.byID[p.ID] = p
	}
	return c, nil
}

// LoadCatalog reads every *.yaml file under dir into a Catalog. Each file
// holds a list of prototypes.
func LoadCatalog(dir string) (*Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading prototype dir: %w", err)
	}
	var protos []*Prototype
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		var batch []*Prototype
		if err := yaml.Unmarshal(data, &batch); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		protos = append(protos, batch...)
	}
	return NewCatalog(protos)
}

// Get returns the prototype with the given id.
func (c *Catalog) Get(id string) (*Prototype, bool) {
	p, ok := c.byID[id]
	return p, ok
}

// Resolve looks up templateID first, then protoID. Stats come from the
// resolved variant; quest and crime credit always use protoID.
func (c *Catalog) Resolve(templateID, protoID string) (*Prototype, bool) {
	if templateID != "" {
		if p, ok := c.byID[templateID]; ok {
			return p, true
		}
	}
	return c.Get(protoID)
}

// IDs returns all prototype ids in sorted order.
func (c *Catalog) IDs() []string {
	out := make([]string, 0, len(c.byID))
	for id := range c.byID {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of prototypes in the catalog.
func (c *Catalog) Len() int { return len(c.byID) }
