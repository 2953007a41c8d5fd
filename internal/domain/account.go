package domain

import "time"

// Stats is the block of combat attributes an account brings into battle
type Stats struct {
	Strength     int `json:"str" yaml:"str"`
	Defense      int `json:"def" yaml:"def"`
	Speed        int `json:"spd" yaml:"spd"`
	Intelligence int `json:"int" yaml:"int"`
}

// Add returns the element-wise sum of two stat blocks
func (s Stats) Add(o Stats) Stats {
	return Stats{
		Strength:     s.Strength + o.Strength,
		Defense:      s.Defense + o.Defense,
		Speed:        s.Speed + o.Speed,
		Intelligence: s.Intelligence + o.Intelligence,
	}
}

// Account is a player's persisted ledger row
type Account struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	Gold           int64     `json:"gold"`
	TrainingPoints int64     `json:"training_points"`
	Rank           string    `json:"rank"`
	Wins           int       `json:"wins"`
	Losses         int       `json:"losses"`
	BaseStats      Stats     `json:"base_stats"`
	EquippedItems  []string  `json:"equipped_items,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// AccountView is an account together with its effective stats
type AccountView struct {
	Account
	EffectiveStats Stats `json:"effective_stats"`
}

// Item is a static catalog entry for equippable gear
type Item struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Slot  string `json:"slot" yaml:"slot"`
	Tier  int    `json:"tier" yaml:"tier"`
	Price int64  `json:"price" yaml:"price"`
	Bonus Stats  `json:"bonus" yaml:"bonus"`
}

// Skill is a static catalog entry for an auctionable skill
type Skill struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Tier        int    `json:"tier" yaml:"tier"`
}

// SkillSource records how a skill was granted
type SkillSource string

const (
	SkillSourceAuction SkillSource = "auction"
	SkillSourceQuest   SkillSource = "quest"
	SkillSourceAdmin   SkillSource = "admin"
)

// PlayerSkill is a grant of a skill to an account
type PlayerSkill struct {
	ID         string      `json:"id"`
	AccountID  string      `json:"account_id"`
	SkillID    string      `json:"skill_id"`
	IsEquipped bool        `json:"is_equipped"`
	AcquiredAt time.Time   `json:"acquired_at"`
	Source     SkillSource `json:"source"`
}
