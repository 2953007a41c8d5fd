package combat

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math/rand/v2"

	"github.com/legends-of-valor/internal/domain"
)

// Formula constants. Every stat point strictly improves its owner's
// expected outcome.
const (
	hpPerDefense  = 10
	hpPerStrength = 4

	attackBase       = 8
	attackPerStr     = 3
	defendNumerator  = 75
	defendPerDef     = 8
	evadeBase        = 0.10
	evadeCap         = 0.80
	evadeSpdScale    = 20.0 // speed at which half the gap to the cap is closed
	trickBase        = 6
	trickPerInt      = 3
	caughtTrickBonus = 4 // trickster caught by an attack takes A + A/4
)

func nonNeg(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

// MaxHP derives a combatant's hit points from effective stats
func MaxHP(baseHP int, s domain.Stats) int {
	return baseHP + hpPerDefense*nonNeg(s.Defense) + hpPerStrength*nonNeg(s.Strength)
}

// AttackPower is the raw damage of an attack
func AttackPower(s domain.Stats) int {
	return attackBase + attackPerStr*nonNeg(s.Strength)
}

// Mitigated is the damage a defending combatant takes from an attack of power a
func Mitigated(a int, defender domain.Stats) int {
	return a * defendNumerator / (100 + defendPerDef*nonNeg(defender.Defense))
}

// EvadeChance is the probability in [0.10, 0.80) that a dodging combatant
// avoids an attack. It rises with every point of speed and approaches the
// cap without reaching it.
func EvadeChance(s domain.Stats) float64 {
	spd := float64(nonNeg(s.Speed))
	return evadeCap - (evadeCap-evadeBase)*evadeSpdScale/(spd+evadeSpdScale)
}

// TrickPower is the damage of a trick that lands
func TrickPower(s domain.Stats) int {
	return trickBase + trickPerInt*nonNeg(s.Intelligence)
}

// Roller produces the per-side dodge roll in [0, 1) for a round
type Roller interface {
	Roll(side int) float64
}

type seededRoller struct {
	rolls [2]float64
}

func (r seededRoller) Roll(side int) float64 { return r.rolls[side] }

// NewRoller seeds the dodge rolls of one round from the engine seed, the
// challenge id and the round number so a replay yields identical rolls.
func NewRoller(seed uint64, challengeID string, round int) Roller {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], seed)
	h.Write(buf[:])
	h.Write([]byte(challengeID))

	rng := rand.New(rand.NewPCG(h.Sum64(), uint64(round)))
	return seededRoller{rolls: [2]float64{rng.Float64(), rng.Float64()}}
}

// Outcome is the result of resolving one round
type Outcome struct {
	Damage  [2]int // damage taken by each side
	Evaded  [2]bool
	Summary string
}

// Resolve computes the damage both sides take given their actions and stats.
// It is pure: the same actions, stats and rolls always give the same outcome.
func Resolve(actions [2]domain.Action, stats [2]domain.Stats, names [2]string, roller Roller) Outcome {
	var out Outcome
	var lines [2]string

	for me := 0; me < 2; me++ {
		opp := 1 - me
		dmg, evaded, line := strike(actions[me], actions[opp], stats[me], stats[opp], names[me], names[opp], roller.Roll(opp))
		out.Damage[opp] += dmg
		out.Evaded[opp] = evaded
		lines[me] = line
	}

	// a caught trick punishes the trickster on top of the attack
	for me := 0; me < 2; me++ {
		opp := 1 - me
		if actions[me] == domain.ActionAttack && actions[opp] == domain.ActionTrick {
			out.Damage[opp] += AttackPower(stats[me]) / caughtTrickBonus
		}
	}

	switch {
	case lines[0] != "" && lines[1] != "":
		out.Summary = lines[0] + " " + lines[1]
	case lines[0] != "":
		out.Summary = lines[0]
	case lines[1] != "":
		out.Summary = lines[1]
	default:
		out.Summary = fmt.Sprintf("%s and %s circle each other; nobody lands a blow.", names[0], names[1])
	}
	return out
}

// strike returns the damage the actor's action deals to the target
func strike(act, targetAct domain.Action, actor, target domain.Stats, actorName, targetName string, targetRoll float64) (int, bool, string) {
	switch act {
	case domain.ActionAttack:
		a := AttackPower(actor)
		switch targetAct {
		case domain.ActionDefend:
			d := Mitigated(a, target)
			return d, false, fmt.Sprintf("%s attacks; %s blocks and takes %d.", actorName, targetName, d)
		case domain.ActionDodge:
			if targetRoll < EvadeChance(target) {
				return 0, true, fmt.Sprintf("%s attacks but %s dodges.", actorName, targetName)
			}
			return a, false, fmt.Sprintf("%s attacks; %s fails to dodge and takes %d.", actorName, targetName, a)
		default:
			return a, false, fmt.Sprintf("%s hits %s for %d.", actorName, targetName, a)
		}
	case domain.ActionTrick:
		t := TrickPower(actor)
		switch targetAct {
		case domain.ActionAttack:
			return 0, false, fmt.Sprintf("%s's trick is read by %s.", actorName, targetName)
		case domain.ActionTrick:
			return t / 2, false, fmt.Sprintf("%s and %s out-trick each other; %s takes %d.", actorName, targetName, targetName, t/2)
		default:
			return t, false, fmt.Sprintf("%s tricks past %s's %s for %d.", actorName, targetName, targetAct, t)
		}
	}
	return 0, false, ""
}
