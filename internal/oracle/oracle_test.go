package oracle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExtractionRejectsOutOfRangeConfidence(t *testing.T) {
	_, err := ParseExtraction([]byte(`{"confidence": 1.5}`))
	assert.Error(t, err, "expected a confidence above 1 to be rejected")

	_, err = ParseExtraction([]byte(`{"confidence": -0.1}`))
	assert.Error(t, err, "expected a negative confidence to be rejected")
}

func TestParseExtractionAcceptsValidOutput(t *testing.T) {
	out, err := ParseExtraction([]byte(`{"record":{"runtime_ms":500},"confidence":0.8}`))
	require.NoError(t, err)
	assert.Equal(t, 0.8, out.Confidence)
	assert.Equal(t, int64(500), out.Record.RuntimeMS)
}

func TestParseExtractionRejectsMalformedJSON(t *testing.T) {
	_, err := ParseExtraction([]byte(`not json`))
	assert.Error(t, err, "expected malformed JSON to be rejected")
}

func TestParseRankingValidatesPermutation(t *testing.T) {
	_, err := ParseRanking([]byte(`{"order":[0,1,2]}`), 3)
	assert.NoError(t, err, "expected a valid permutation to parse")
}

func TestParseRankingRejectsWrongLength(t *testing.T) {
	_, err := ParseRanking([]byte(`{"order":[0,1]}`), 3)
	assert.Error(t, err, "expected a short order list to be rejected")
}

func TestParseRankingRejectsOutOfRangeIndex(t *testing.T) {
	_, err := ParseRanking([]byte(`{"order":[0,1,5]}`), 3)
	assert.Error(t, err, "expected an out-of-range index to be rejected")
}

func TestParseRankingRejectsDuplicateIndex(t *testing.T) {
	_, err := ParseRanking([]byte(`{"order":[0,1,1]}`), 3)
	assert.Error(t, err, "expected a duplicate index to be rejected")
}
