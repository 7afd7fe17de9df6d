package signals

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Decision buckets an invalidation score
type Decision string

const (
	DecisionCritical Decision = "CRITICAL" // >= 85
	DecisionStrong   Decision = "STRONG"   // >= 70
	DecisionModerate Decision = "MODERATE" // >= 50
	DecisionMild     Decision = "MILD"     // >= 30
	DecisionNormal   Decision = "NORMAL"
)

// Article is one headline considered for invalidation
type Article struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Publisher   string    `json:"publisher"`
	PublishedAt time.Time `json:"published_at"`
}

// ScoredArticle is an article that contributed negative points
type ScoredArticle struct {
	Title    string   `json:"title"`
	Source   string   `json:"source"`
	AgeHours float64  `json:"age_hours"`
	Score    int      `json:"score"`
	Keywords []string `json:"keywords"`
}

// InvalidationResult is the worst-article score across recent headlines
type InvalidationResult struct {
	Score            int             `json:"score"`
	Decision         Decision        `json:"decision"`
	ShouldExit       bool            `json:"should_exit"`
	ArticlesAnalyzed int             `json:"articles_analyzed"`
	Triggering       []ScoredArticle `json:"triggering"`
}

type keywordTier struct {
	name     string
	points   int
	keywords []string
}

var negativeKeywords = []keywordTier{
	{"critical", 50, []string{"charge", "writedown", "impairment", "investigation", "fraud", "bankruptcy"}},
	{"severe", 40, []string{"delay", "downgrade", "cut guidance", "miss", "suspend", "lawsuit", "warning"}},
	{"moderate", 25, []string{"concerns", "weakness", "below", "disappointing", "decline", "fall"}},
	{"mild", 10, []string{"challenges", "headwinds", "competitive", "pressure"}},
}

var strongNegatives = []string{"significantly", "sharply", "plunge", "collapse", "crash"}

// Publisher weights; unknown publishers get defaultSourceWeight
var sourceWeights = []struct {
	name   string
	weight float64
}{
	{"bloomberg", 1.0},
	{"reuters", 1.0},
	{"wsj", 1.0},
	{"wall street journal", 1.0},
	{"marketwatch", 0.75},
	{"cnbc", 0.75},
	{"seeking alpha", 0.5},
	{"seeking_alpha", 0.5},
	{"benzinga", 0.5},
	{"yahoo", 0.5},
}

const defaultSourceWeight = 0.5

var (
	dollarAmount = regexp.MustCompile(`(?i)\$[\d.]+[bmk]`)
	percentMove  = regexp.MustCompile(`[-−]?\d+\.?\d*%`)
)

// ScoreInvalidation scores recent headlines for thesis-breaking news. Each
// article is scored on keywords and amplifiers, weighted by publisher
// credibility, then given a recency bonus. The result is the worst article.
func ScoreInvalidation(articles []Article, now time.Time) InvalidationResult {
	result := InvalidationResult{ArticlesAnalyzed: len(articles), Decision: DecisionNormal}

	for _, a := range articles {
		scored := scoreArticle(a, now)
		if scored.Score <= 0 {
			continue
		}
		result.Triggering = append(result.Triggering, scored)
		if scored.Score > result.Score {
			result.Score = scored.Score
		}
	}

	switch {
	case result.Score >= 85:
		result.Decision, result.ShouldExit = DecisionCritical, true
	case result.Score >= InvalidationThreshold:
		result.Decision, result.ShouldExit = DecisionStrong, true
	case result.Score >= 50:
		result.Decision = DecisionModerate
	case result.Score >= 30:
		result.Decision = DecisionMild
	}

	sort.SliceStable(result.Triggering, func(i, j int) bool {
		return result.Triggering[i].Score > result.Triggering[j].Score
	})
	if len(result.Triggering) > 3 {
		result.Triggering = result.Triggering[:3]
	}
	return result
}

func scoreArticle(a Article, now time.Time) ScoredArticle {
	text := strings.ToLower(a.Title + " " + a.Description)
	score := 0
	var found []string

	for _, tier := range negativeKeywords {
		for _, kw := range tier.keywords {
			if strings.Contains(text, kw) {
				score += tier.points
				found = append(found, fmt.Sprintf("%s (%s)", kw, tier.name))
			}
		}
	}

	if m := dollarAmount.FindAllString(text, -1); len(m) > 0 {
		score += 15
		found = append(found, "quantified: "+strings.Join(m, ", "))
	}
	if m := percentMove.FindAllString(text, -1); len(m) > 0 {
		score += 10
		found = append(found, "quantified: "+strings.Join(m, ", "))
	}
	for _, sn := range strongNegatives {
		if strings.Contains(text, sn) {
			score += 5
			found = append(found, "strong negative modifier")
			break
		}
	}
	if len(found) >= 3 {
		score += 10
		found = append(found, "multiple keywords detected")
	}

	publisher := strings.ToLower(a.Publisher)
	weight := defaultSourceWeight
	for _, sw := range sourceWeights {
		if strings.Contains(publisher, sw.name) {
			weight = sw.weight
			break
		}
	}
	score = int(float64(score) * weight)

	ageHours := 999.0
	if !a.PublishedAt.IsZero() {
		ageHours = now.Sub(a.PublishedAt).Hours()
	}
	switch {
	case ageHours < 1:
		score += 10
		found = append(found, "breaking news (<1h)")
	case ageHours < 4:
		score += 5
		found = append(found, "recent news (<4h)")
	}

	return ScoredArticle{
		Title:    a.Title,
		Source:   publisher,
		AgeHours: float64(int(ageHours*10)) / 10,
		Score:    score,
		Keywords: found,
	}
}
