package signal

import (
	"math"
	"strings"
	"time"
)

// ════════════════════════════════════════════════════════════════════
// Keyword sentiment model
// ════════════════════════════════════════════════════════════════════
// Deterministic and offline: headlines are scored against weighted word
// lists, then aggregated per symbol with a time decay that halves an
// article's weight every 24 hours.

// Article is one fetched news item.
type Article struct {
	Title       string
	Summary     string
	URL         string
	Source      string
	PublishedAt time.Time
}

// Score is a scored headline.
type Score struct {
	Headline    string
	Value       float64 // -1 very bearish .. +1 very bullish
	Confidence  float64
	Source      string
	URL         string
	PublishedAt time.Time
}

// Aggregate is the time-weighted sentiment for one symbol.
type Aggregate struct {
	Symbol     string
	Score      float64
	Confidence float64
	Label      string
	Articles   int
	At         time.Time
}

// Bullish and bearish keyword weights (lowercase, substring-matched).
var bullishWords = map[string]float64{
	"bullish": 0.7, "rally": 0.6, "surge": 0.7, "upbeat": 0.5,
	"positive": 0.4, "growth": 0.4, "upgrade": 0.6, "outperform": 0.6,
	"buy": 0.5, "strong": 0.4, "recovery": 0.5, "breakout": 0.6,
	"record high": 0.7, "all-time high": 0.7, "beat": 0.5,
	"exceeds": 0.5, "beats estimate": 0.6, "expansion": 0.4,
	"profit": 0.3, "dividend": 0.4, "accumulate": 0.5,
	"raises guidance": 0.6, "special dividend": 0.5, "buyback": 0.5,
	"takeover bid": 0.6,
}

var bearishWords = map[string]float64{
	"bearish": 0.7, "crash": 0.8, "plunge": 0.7, "slump": 0.6,
	"negative": 0.4, "downgrade": 0.6, "underperform": 0.6,
	"sell": 0.5, "weak": 0.4, "decline": 0.5, "loss": 0.4,
	"selloff": 0.7, "fall": 0.4, "correction": 0.5,
	"default": 0.7, "fraud": 0.8, "scam": 0.8, "investigation": 0.5,
	"cut": 0.3, "miss": 0.5, "warning": 0.5, "concern": 0.3,
	"profit warning": 0.7, "class action": 0.6, "capital raising": 0.4,
	"trading halt": 0.5,
}

// ScoreHeadline scores a single piece of text. The score is the net
// keyword weight normalized to [-1, +1]; confidence grows with the match
// count and caps at 0.85. Text with no keyword hits scores (0, 0.1).
func ScoreHeadline(text string) (score, confidence float64) {
	lower := strings.ToLower(text)

	bull, bear := 0.0, 0.0
	matches := 0
	for word, weight := range bullishWords {
		if strings.Contains(lower, word) {
			bull += weight
			matches++
		}
	}
	for word, weight := range bearishWords {
		if strings.Contains(lower, word) {
			bear += weight
			matches++
		}
	}

	total := bull + bear
	if matches == 0 || total == 0 {
		return 0, 0.1
	}
	score = (bull - bear) / total
	confidence = math.Min(float64(matches)*0.15+0.2, 0.85)
	return score, confidence
}

// ScoreArticle scores the article's title and summary together.
func ScoreArticle(a Article) Score {
	text := a.Title
	if a.Summary != "" {
		text += " " + a.Summary
	}
	value, confidence := ScoreHeadline(text)
	return Score{
		Headline:    a.Title,
		Value:       value,
		Confidence:  confidence,
		Source:      a.Source,
		URL:         a.URL,
		PublishedAt: a.PublishedAt,
	}
}

// AggregateScores combines scores into one symbol-level reading. Each
// score is weighted by its confidence and by age: weight halves every 24
// hours, so yesterday's headline counts half as much as this morning's.
func AggregateScores(symbol string, scores []Score, now time.Time) Aggregate {
	if len(scores) == 0 {
		return Aggregate{Symbol: symbol, Label: "Neutral", At: now}
	}

	weightedSum, totalWeight, confSum := 0.0, 0.0, 0.0
	for _, s := range scores {
		age := now.Sub(s.PublishedAt).Hours()
		if age < 0 {
			age = 0
		}
		w := math.Exp(-0.693*age/24) * s.Confidence
		weightedSum += s.Value * w
		totalWeight += w
		confSum += s.Confidence
	}

	avg := 0.0
	if totalWeight > 0 {
		avg = weightedSum / totalWeight
	}

	label := "Neutral"
	switch {
	case avg > 0.3:
		label = "Bullish"
	case avg > 0.1:
		label = "Slightly Bullish"
	case avg < -0.3:
		label = "Bearish"
	case avg < -0.1:
		label = "Slightly Bearish"
	}

	return Aggregate{
		Symbol:     symbol,
		Score:      avg,
		Confidence: confSum / float64(len(scores)),
		Label:      label,
		Articles:   len(scores),
		At:         now,
	}
}
