package assignment

import (
	"sort"

	"github.com/velora-app/velora/internal/model"
)

// Soft-score weights for operator matching.
const (
	matchBase          = 50
	skillSupersetBonus = 30
	skillOverlapBonus  = 15
	preferredBonus     = 20
)

// MatchScore computes the compatibility score between a queue entry and
// a candidate operator. The second return value is false when the
// operator fails a hard filter and must not be considered at all.
func MatchScore(entry *Entry, op *model.Operator) (int, bool) {
	if !op.Available || op.Suspended {
		return 0, false
	}
	if op.CurrentChats >= op.MaxChats {
		return 0, false
	}
	for _, excluded := range entry.ExcludedOperatorIDs {
		if op.ID == excluded {
			return 0, false
		}
	}

	score := matchBase
	score += skillBonus(entry.RequiredSkills, op.Skills)
	score += workloadBonus(op.CurrentChats)
	score += qualityBonus(op.Quality)
	if entry.PreferredOperatorID != "" && op.ID == entry.PreferredOperatorID {
		score += preferredBonus
	}
	return score, true
}

// skillBonus rewards a full superset of the required tags, then any
// partial overlap. No required tags counts as a superset.
func skillBonus(required, offered []string) int {
	if len(required) == 0 {
		return skillSupersetBonus
	}
	have := make(map[string]bool, len(offered))
	for _, tag := range offered {
		have[tag] = true
	}
	matched := 0
	for _, tag := range required {
		if have[tag] {
			matched++
		}
	}
	switch {
	case matched == len(required):
		return skillSupersetBonus
	case matched > 0:
		return skillOverlapBonus
	default:
		return 0
	}
}

// workloadBonus is highest at zero active chats and tapers off to
// nothing at four or more.
func workloadBonus(currentChats int) int {
	bonus := 20 - 5*currentChats
	if bonus < 0 {
		return 0
	}
	return bonus
}

// qualityBonus bands on the rolling quality score.
func qualityBonus(quality float64) int {
	switch {
	case quality >= 4.5:
		return 15
	case quality >= 4.0:
		return 10
	case quality >= 3.5:
		return 5
	default:
		return 0
	}
}

// candidate pairs an operator with its computed match score.
type candidate struct {
	op    model.Operator
	score int
}

// rankCandidates filters and orders operators for an entry: score
// descending, ties broken by lowest current load, then by earliest
// last activity so the most idle operator absorbs the chat.
func rankCandidates(entry *Entry, operators []model.Operator) []candidate {
	candidates := make([]candidate, 0, len(operators))
	for i := range operators {
		score, eligible := MatchScore(entry, &operators[i])
		if !eligible {
			continue
		}
		candidates = append(candidates, candidate{op: operators[i], score: score})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if candidates[i].op.CurrentChats != candidates[j].op.CurrentChats {
			return candidates[i].op.CurrentChats < candidates[j].op.CurrentChats
		}
		return candidates[i].op.LastActivity.Before(candidates[j].op.LastActivity)
	})
	return candidates
}
