// Package character provides the persisted player profile model.
package character

import "time"

// CrimeSeverity grades a character's recent-crime heat.
type CrimeSeverity string

const (
	CrimeNone   CrimeSeverity = "none"
	CrimeMinor  CrimeSeverity = "minor"
	CrimeSevere CrimeSeverity = "severe"
)

// CombatRole is the coarse role a class plays in threat math.
type CombatRole string

const (
	RoleTank   CombatRole = "tank"
	RoleHealer CombatRole = "healer"
	RoleDPS    CombatRole = "dps"
)

// RoleForClass maps a class id to its combat role. Unknown classes are DPS.
func RoleForClass(classID string) CombatRole {
	switch classID {
	case "guardian", "knight", "warden":
		return RoleTank
	case "cleric", "druid", "mender":
		return RoleHealer
	default:
		return RoleDPS
	}
}

// Progression holds the nested progression state persisted as JSON.
type Progression struct {
	// Cooldowns maps ability id to the unix-ms instant it becomes ready.
	Cooldowns map[string]int64 `json:"cooldowns"`
	// StatusEffects holds the persisted active-effect snapshot.
	StatusEffects struct {
		Active []PersistedEffect `json:"active"`
	} `json:"statusEffects"`
	// PowerResources maps resource name (mana, fury) to current value.
	PowerResources map[string]int `json:"powerResources"`
	// SongSkills is the bard song playlist skill list.
	SongSkills []string `json:"songSkills"`
}

// PersistedEffect is the serialized form of one active status effect.
type PersistedEffect struct {
	SourceID  string `json:"sourceId"`
	ExpiresAt int64  `json:"expiresAt"`
	Stacks    int    `json:"stacks"`
}

// Character is the persisted player profile.
type Character struct {
	ID           int64
	UserID       int64
	ShardID      string
	Name         string
	ClassID      string
	Level        int
	XP           int64
	X, Y, Z      float64
	RotY         float64
	LastRegionID string
	Attributes   map[string]int
	Inventory    map[string]int
	Equipment    map[string]string
	Spellbook    []string
	Abilities    []string
	Progression  Progression
	// RecentCrimeUntil is when the crime heat expires; zero means clean.
	RecentCrimeUntil time.Time
	// RecentCrimeSeverity is the worst unexpired crime grade.
	RecentCrimeSeverity CrimeSeverity
	MaxHP               int
	CurrentHP           int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Role returns the character's combat role derived from its class.
func (c *Character) Role() CombatRole {
	return RoleForClass(c.ClassID)
}

// HasRecentCrime reports whether the character carries unexpired crime heat
// of at least the given severity.
func (c *Character) HasRecentCrime(now time.Time, atLeast CrimeSeverity) bool {
	if c.RecentCrimeUntil.IsZero() || now.After(c.RecentCrimeUntil) {
		return false
	}
	if c.RecentCrimeSeverity == CrimeNone {
		return false
	}
	if atLeast == CrimeSevere {
		return c.RecentCrimeSeverity == CrimeSevere
	}
	return true
}

// RecordCrime raises the character's crime heat. Severity never downgrades
// while unexpired heat remains.
//
// Postcondition: RecentCrimeUntil >= now + window.
func (c *Character) RecordCrime(now time.Time, severity CrimeSeverity, window time.Duration) {
	until := now.Add(window)
	if until.After(c.RecentCrimeUntil) {
		c.RecentCrimeUntil = until
	}
	if severity == CrimeSevere {
		c.RecentCrimeSeverity = CrimeSevere
	} else if c.RecentCrimeSeverity != CrimeSevere {
		c.RecentCrimeSeverity = severity
	}
}
