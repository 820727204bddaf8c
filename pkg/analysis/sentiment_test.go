package analysis

import (
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"callinsight-server/pkg/config"
	"callinsight-server/pkg/database"
)

type stubAnalyzer struct {
	result RawSentiment
	calls  int
}

func (s *stubAnalyzer) Analyze(string) RawSentiment {
	s.calls++
	return s.result
}

func sentimentTestConfig() config.SentimentConfig {
	return config.SentimentConfig{
		MinTextLength: 3,
		StrongCutoff:  0.8,
		CallThreshold: 0.3,
	}
}

func TestScorerStrongPositiveIsSatisfied(t *testing.T) {
	scorer := NewScorer(&stubAnalyzer{result: RawSentiment{Label: "positive", Confidence: 0.85}}, sentimentTestConfig())

	label, score := scorer.Score("that was wonderful, thank you")
	assert.Equal(t, database.SentimentSatisfied, label)
	assert.InDelta(t, 0.85, score, 0.0001)
}

func TestScorerMildNegativeStaysNegative(t *testing.T) {
	scorer := NewScorer(&stubAnalyzer{result: RawSentiment{Label: "negative", Confidence: 0.5}}, sentimentTestConfig())

	label, score := scorer.Score("this is not great")
	assert.Equal(t, database.SentimentNegative, label)
	assert.InDelta(t, -0.5, score, 0.0001)
}

func TestScorerStrongNegativeIsFrustrated(t *testing.T) {
	scorer := NewScorer(&stubAnalyzer{result: RawSentiment{Label: "negative", Confidence: 0.95}}, sentimentTestConfig())

	label, score := scorer.Score("this is absolutely unacceptable")
	assert.Equal(t, database.SentimentFrustrated, label)
	assert.InDelta(t, -0.95, score, 0.0001)
}

func TestScorerCutoffBoundaryIsNotStrong(t *testing.T) {
	// Exactly at the cutoff stays in the mild class; the comparison is strict
	scorer := NewScorer(&stubAnalyzer{result: RawSentiment{Label: "positive", Confidence: 0.8}}, sentimentTestConfig())

	label, _ := scorer.Score("pretty good overall")
	assert.Equal(t, database.SentimentPositive, label)
}

func TestScorerShortTextSkipsAnalyzer(t *testing.T) {
	stub := &stubAnalyzer{result: RawSentiment{Label: "positive", Confidence: 0.99}}
	scorer := NewScorer(stub, sentimentTestConfig())

	label, score := scorer.Score("ok")
	assert.Equal(t, database.SentimentNeutral, label)
	assert.Zero(t, score)
	assert.Zero(t, stub.calls, "analyzer must not run for short text")

	label, score = scorer.Score("   a  ")
	assert.Equal(t, database.SentimentNeutral, label)
	assert.Zero(t, score)
	assert.Zero(t, stub.calls)
}

func TestScorerNeutralLabelScoresZero(t *testing.T) {
	scorer := NewScorer(&stubAnalyzer{result: RawSentiment{Label: "neutral", Confidence: 0.7}}, sentimentTestConfig())

	label, score := scorer.Score("the account number is 12345")
	assert.Equal(t, database.SentimentNeutral, label)
	assert.Zero(t, score)
}

func TestLexiconAnalyzerPolarity(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	analyzer := NewLexiconAnalyzer(logger)

	positive := analyzer.Analyze("this was excellent, thank you so much")
	assert.Equal(t, "positive", positive.Label)
	assert.Greater(t, positive.Confidence, 0.0)

	negative := analyzer.Analyze("this is terrible and I am furious")
	assert.Equal(t, "negative", negative.Label)
	assert.Greater(t, negative.Confidence, 0.0)

	neutral := analyzer.Analyze("the invoice arrived on tuesday")
	assert.Equal(t, "neutral", neutral.Label)
}

func TestLexiconAnalyzerNegatorFlipsPolarity(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	analyzer := NewLexiconAnalyzer(logger)

	result := analyzer.Analyze("that is not good at all")
	assert.Equal(t, "negative", result.Label)
}

func TestLexiconAnalyzerConcurrentFirstUse(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	analyzer := NewLexiconAnalyzer(logger)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := analyzer.Analyze("this was excellent")
			assert.Equal(t, "positive", result.Label)
		}()
	}
	wg.Wait()
}
