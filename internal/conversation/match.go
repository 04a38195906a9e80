package conversation

import (
	"sort"
	"strings"

	"github.com/dataflowhq/control-plane/internal"
	"github.com/dataflowhq/control-plane/internal/models"
)

// Similarity scores two strings on a 0-100 scale with a token-set scheme:
// strings are split into lowercase tokens and compared as sets, so word
// order and container words barely matter. A full subset scores 100.
func Similarity(a, b string) int {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	var common, onlyA, onlyB []string
	for t := range ta {
		if tb[t] {
			common = append(common, t)
		} else {
			onlyA = append(onlyA, t)
		}
	}
	for t := range tb {
		if !ta[t] {
			onlyB = append(onlyB, t)
		}
	}

	if len(common) > 0 && (len(onlyA) == 0 || len(onlyB) == 0) {
		return 100
	}

	sort.Strings(common)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	base := strings.Join(common, " ")
	full1 := strings.TrimSpace(base + " " + strings.Join(onlyA, " "))
	full2 := strings.TrimSpace(base + " " + strings.Join(onlyB, " "))

	best := ratio(base, full1)
	if r := ratio(base, full2); r > best {
		best = r
	}
	if r := ratio(full1, full2); r > best {
		best = r
	}
	return best
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		set[t] = true
	}
	return set
}

// ratio is a Levenshtein similarity on 0-100.
func ratio(a, b string) int {
	if a == b {
		return 100
	}
	la, lb := len(a), len(b)
	if la == 0 || lb == 0 {
		return 0
	}

	prev := make([]int, lb+1)
	cur := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		cur[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min3(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}

	dist := prev[lb]
	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	return 100 * (maxLen - dist) / maxLen
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// MatchCredential picks the stored credential best matching a source hint.
// Below the threshold, no match is returned.
func MatchCredential(hint string, candidates []models.Credential) (*models.Credential, int) {
	var best *models.Credential
	bestScore := 0

	for i := range candidates {
		c := &candidates[i]
		score := Similarity(hint, c.Name)
		if s := Similarity(hint, c.Database); s > score {
			score = s
		}
		if score > bestScore {
			best, bestScore = c, score
		}
	}

	if bestScore < internal.CredentialMatchThreshold {
		return nil, bestScore
	}
	return best, bestScore
}

// TableMatch is one scored discovery candidate. Suggested marks scores in
// the gray zone that need user confirmation.
type TableMatch struct {
	Table     models.DiscoveredTable
	Score     int
	Suggested bool
}

// MatchTable scores a table hint against discovered tables. Scores at or
// above the exact threshold match outright; between the suggest and exact
// thresholds the best candidate comes back flagged as a suggestion.
func MatchTable(hint string, candidates []models.DiscoveredTable) *TableMatch {
	var best *TableMatch

	for _, t := range candidates {
		score := Similarity(hint, t.TableName)
		if s := Similarity(hint, t.QualifiedName()); s > score {
			score = s
		}
		if best == nil || score > best.Score {
			best = &TableMatch{Table: t, Score: score}
		}
	}

	if best == nil || best.Score < internal.TableSuggestThreshold {
		return nil
	}
	best.Suggested = best.Score < internal.TableMatchThreshold
	return best
}
