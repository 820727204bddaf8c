package analysis

import (
	"math"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"callinsight-server/pkg/config"
	"callinsight-server/pkg/database"
)

// RawSentiment is an analyzer's raw classification before domain mapping.
type RawSentiment struct {
	Label      string  // "positive", "negative" or "neutral"
	Confidence float64 // [0, 1]
}

// Analyzer classifies a span of text. Implementations must be safe for
// concurrent use after their first invocation.
type Analyzer interface {
	Analyze(text string) RawSentiment
}

// LexiconAnalyzer scores text against weighted word lexicons with support for
// negators and intensifiers. The lexicons are built lazily on first use;
// concurrent first callers share a single load.
type LexiconAnalyzer struct {
	logger *logrus.Entry

	mu            sync.Mutex
	loaded        bool
	positiveWords map[string]float64
	negativeWords map[string]float64
	intensifiers  map[string]float64
	negators      map[string]bool
}

// NewLexiconAnalyzer creates an analyzer. The lexicons are not loaded until
// the first Analyze call.
func NewLexiconAnalyzer(logger *logrus.Logger) *LexiconAnalyzer {
	return &LexiconAnalyzer{
		logger: logger.WithField("component", "sentiment_analyzer"),
	}
}

// ensureLoaded builds the lexicons exactly once. Held under the mutex so
// concurrent first callers do not race on partial state.
func (a *LexiconAnalyzer) ensureLoaded() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.loaded {
		return
	}

	a.positiveWords = map[string]float64{
		"good": 0.7, "great": 0.8, "excellent": 0.9, "amazing": 0.9, "wonderful": 0.8,
		"fantastic": 0.9, "awesome": 0.8, "perfect": 0.9, "love": 0.8, "like": 0.6,
		"happy": 0.8, "pleased": 0.7, "satisfied": 0.7, "delighted": 0.8, "thrilled": 0.9,
		"thanks": 0.7, "thank": 0.7, "helpful": 0.7, "resolved": 0.8, "appreciate": 0.7,
		"yes": 0.5, "sure": 0.5,
	}
	a.negativeWords = map[string]float64{
		"bad": 0.7, "terrible": 0.8, "awful": 0.9, "horrible": 0.9, "hate": 0.8,
		"angry": 0.8, "mad": 0.7, "furious": 0.9, "upset": 0.7, "frustrated": 0.8,
		"disappointed": 0.7, "wrong": 0.6, "problem": 0.5, "issue": 0.4, "broken": 0.7,
		"useless": 0.8, "ridiculous": 0.8, "unacceptable": 0.9, "complaint": 0.6,
		"refund": 0.4, "cancel": 0.5,
	}
	a.intensifiers = map[string]float64{
		"very": 1.3, "extremely": 1.5, "really": 1.2, "absolutely": 1.4,
		"completely": 1.4, "totally": 1.4, "incredibly": 1.5,
	}
	a.negators = map[string]bool{
		"not": true, "no": true, "never": true, "don't": true, "doesn't": true,
		"didn't": true, "won't": true, "can't": true, "isn't": true, "wasn't": true,
	}

	a.loaded = true
	a.logger.Debug("Sentiment lexicons loaded")
}

// Analyze classifies the text by averaging lexicon hits. A negator flips the
// polarity of the following sentiment word; an intensifier scales it.
func (a *LexiconAnalyzer) Analyze(text string) RawSentiment {
	a.ensureLoaded()

	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return RawSentiment{Label: "neutral"}
	}

	var score float64
	var hits int
	modifier := 1.0
	negated := false

	for _, word := range words {
		word = strings.Trim(word, ".,!?;:\"'")

		if a.negators[word] {
			negated = true
			continue
		}
		if factor, ok := a.intensifiers[word]; ok {
			modifier *= factor
			continue
		}

		var value float64
		if v, ok := a.positiveWords[word]; ok {
			value = v
		} else if v, ok := a.negativeWords[word]; ok {
			value = -v
		} else {
			continue
		}

		if negated {
			value = -value
			negated = false
		}
		score += value * modifier
		hits++
		modifier = 1.0
	}

	if hits == 0 {
		return RawSentiment{Label: "neutral"}
	}

	mean := score / float64(hits)
	confidence := math.Min(math.Abs(mean), 1.0)

	switch {
	case mean > 0.05:
		return RawSentiment{Label: "positive", Confidence: confidence}
	case mean < -0.05:
		return RawSentiment{Label: "negative", Confidence: confidence}
	default:
		return RawSentiment{Label: "neutral", Confidence: confidence}
	}
}

// Scorer maps an analyzer's raw output onto the persisted five-way sentiment
// taxonomy and a signed intensity in [-1, 1].
type Scorer struct {
	analyzer Analyzer
	config   config.SentimentConfig
}

// NewScorer wraps an analyzer with the domain mapping rules.
func NewScorer(analyzer Analyzer, cfg config.SentimentConfig) *Scorer {
	return &Scorer{analyzer: analyzer, config: cfg}
}

// Score classifies one text span. Text shorter than the configured minimum
// after trimming is always neutral with intensity 0 and never reaches the
// analyzer. Strong positives map to satisfied and strong negatives to
// frustrated; the intensity is the signed confidence.
func (s *Scorer) Score(text string) (database.Sentiment, float64) {
	if len(strings.TrimSpace(text)) < s.config.MinTextLength {
		return database.SentimentNeutral, 0.0
	}

	raw := s.analyzer.Analyze(text)

	switch raw.Label {
	case "positive":
		if raw.Confidence > s.config.StrongCutoff {
			return database.SentimentSatisfied, raw.Confidence
		}
		return database.SentimentPositive, raw.Confidence
	case "negative":
		if raw.Confidence > s.config.StrongCutoff {
			return database.SentimentFrustrated, -raw.Confidence
		}
		return database.SentimentNegative, -raw.Confidence
	default:
		return database.SentimentNeutral, 0.0
	}
}
