package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
seller:
  id: "2209876543"
openai:
  base_url: https://openrouter.ai/api/v1
  token: sk-test
  model: deepseek/deepseek-chat
transport:
  webhook_url: http://localhost:9000/send
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Listen)
	assert.Equal(t, []string{"。"}, cfg.Seller.ToggleKeywords)
	assert.Equal(t, time.Hour, cfg.Seller.ManualModeTimeout)
	assert.Equal(t, 3, cfg.Middleware.Workers)
	assert.Equal(t, 3, cfg.Middleware.MaxAttempts)
	assert.Equal(t, 5*time.Minute, cfg.Middleware.MessageExpiry)
	assert.Equal(t, []float64{0.25, 0.5, 0.75, 1}, cfg.Negotiation.Ladder)
	assert.Contains(t, cfg.Experts, "pricing")
	assert.Contains(t, cfg.Router.Keywords, "after_sales")
	assert.Equal(t, 20, cfg.Middleware.LaneSize)
	require.NotNil(t, cfg.Router.MaxOffTopicTurns)
	assert.Equal(t, 3, *cfg.Router.MaxOffTopicTurns)
	require.NotNil(t, cfg.Negotiation.PatienceTurns)
	assert.Equal(t, 2, *cfg.Negotiation.PatienceTurns)
	assert.Equal(t, DefaultOfferGrammar(), cfg.Negotiation.Offer)
}

func TestParseKeepsExplicitZero(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML + `
router:
  max_off_topic_turns: 0
negotiation:
  patience_turns: 0
`))
	require.NoError(t, err)

	require.NotNil(t, cfg.Router.MaxOffTopicTurns)
	assert.Zero(t, *cfg.Router.MaxOffTopicTurns)
	require.NotNil(t, cfg.Negotiation.PatienceTurns)
	assert.Zero(t, *cfg.Negotiation.PatienceTurns)
}

func TestParseRejectsNegativeTurns(t *testing.T) {
	_, err := Parse([]byte(minimalYAML + `
router:
  max_off_topic_turns: -1
`))
	require.Error(t, err)
}

func TestParseOfferGrammar(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML + `
negotiation:
  offer:
    currency_suffixes: ["bucks"]
    price_words: []
`))
	require.NoError(t, err)

	assert.Equal(t, []string{"bucks"}, cfg.Negotiation.Offer.CurrencySuffixes)
	assert.Empty(t, cfg.Negotiation.Offer.PriceWords)
	assert.Equal(t, DefaultOfferGrammar().UnitSuffixes, cfg.Negotiation.Offer.UnitSuffixes)
	assert.Equal(t, 4, cfg.Negotiation.Offer.Window)
}

func TestParseDurations(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML + `
middleware:
  base_backoff: 10ms
  max_backoff: 1s
  generate_timeout: 5s
  lease_ttl: 1m
`))
	require.NoError(t, err)

	assert.Equal(t, 10*time.Millisecond, cfg.Middleware.BaseBackoff)
	assert.Equal(t, time.Second, cfg.Middleware.MaxBackoff)
	assert.Equal(t, time.Minute, cfg.Middleware.LeaseTTL)
}

func TestParseRejectsMissingSeller(t *testing.T) {
	_, err := Parse([]byte(`
openai:
  base_url: https://openrouter.ai/api/v1
  token: sk-test
  model: m
transport:
  disable_delivery: true
`))
	require.Error(t, err)
}

func TestParseRejectsDecreasingLadder(t *testing.T) {
	_, err := Parse([]byte(minimalYAML + `
negotiation:
  ladder: [0.5, 0.25]
`))
	require.ErrorContains(t, err, "non-decreasing")
}

func TestParseRejectsFloorAboveListed(t *testing.T) {
	_, err := Parse([]byte(minimalYAML + `
negotiation:
  items:
    "778899":
      listed: 100
      floor: 120
`))
	require.ErrorContains(t, err, "floor")
}

func TestParseRequiresWebhookUnlessDisabled(t *testing.T) {
	_, err := Parse([]byte(`
seller:
  id: "1"
openai:
  base_url: https://openrouter.ai/api/v1
  token: sk-test
  model: m
`))
	require.ErrorContains(t, err, "webhook_url")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "2209876543", cfg.Seller.ID)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
