package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

const defaultPath = "config.yaml"

type Config struct {
	Log         Log                `yaml:"log"`
	HTTP        HTTP               `yaml:"http"`
	Seller      Seller             `yaml:"seller"`
	OpenAI      ModelConfig        `yaml:"openai"`
	Transport   Transport          `yaml:"transport"`
	Identity    Identity           `yaml:"identity"`
	Router      Router             `yaml:"router"`
	Experts     map[string]Persona `yaml:"experts" validate:"dive"`
	Negotiation Negotiation        `yaml:"negotiation"`
	Middleware  Middleware         `yaml:"middleware"`
	Store       Store              `yaml:"store"`
}

type Log struct {
	// Telegram logging config
	Telegram TelegramLog `yaml:"telegram"`
}

type TelegramLog struct {
	// Chat bot token, obtain it via BotFather
	Token string `yaml:"token" example:"1234567890:ABCdefGHIjklMNopQRstUVwxyZ-123456789"`
	// Chat ID to send messages to
	ChatID string `yaml:"chat_id" example:"1001234567890"`
}

type HTTP struct {
	// Address of the inbound event / operator API
	Listen string `yaml:"listen" example:":8080" validate:"required"`
}

type Seller struct {
	// Marketplace user id of the seller account
	ID string `yaml:"id" example:"2209876543" validate:"required"`
	// Messages from the seller consisting of one of these toggle manual takeover
	ToggleKeywords []string `yaml:"toggle_keywords" example:"[\"。\"]" validate:"min=1,dive,required"`
	// Seller messages containing one of these abandon the running negotiation
	AbandonKeywords []string `yaml:"abandon_keywords" example:"[\"不卖了\"]"`
	// Manual takeover expires after this duration
	ManualModeTimeout time.Duration `yaml:"manual_mode_timeout" example:"1h" validate:"gt=0"`
}

type ModelConfig struct {
	// OpenAI base url
	BaseURL string `yaml:"base_url" example:"https://openrouter.ai/api/v1" validate:"required"`
	// OpenAI token
	Token string `yaml:"token" example:"sk-proj-abc123456789DEF789ghi012JKL345mno678PQR901stu234VWX" validate:"required"`
	// OpenAI model
	Model string `yaml:"model" example:"deepseek/deepseek-chat-v3-0324:free" validate:"required"`
	// Sampling temperature
	Temperature float64 `yaml:"temperature" example:"0.7" validate:"gte=0,lte=2"`
	// Completion token limit
	MaxTokens int `yaml:"max_tokens" example:"500" validate:"gt=0"`
}

type Transport struct {
	// Transport collaborator endpoint receiving outbound replies
	WebhookURL string `yaml:"webhook_url" example:"http://localhost:9000/send" validate:"omitempty,url"`
	// Log replies instead of delivering them
	DisableDelivery bool `yaml:"disable_delivery" example:"false"`
}

type Identity struct {
	// Phrases typical for the seller side of a thread
	SellerLexicon []string `yaml:"seller_lexicon" validate:"min=1,dive,required"`
	// Phrases typical for a buyer
	BuyerLexicon []string `yaml:"buyer_lexicon" validate:"min=1,dive,required"`
	// Signals weaker than this keep the remembered role
	Threshold float64 `yaml:"threshold" example:"0.6" validate:"gt=0,lte=1"`
}

type Router struct {
	// Keywords per strategy tag (pricing, technical, after_sales)
	Keywords map[string][]string `yaml:"keywords" validate:"required"`
	// Consecutive off-topic turns tolerated before pricing is released
	MaxOffTopicTurns *int `yaml:"max_off_topic_turns" example:"3" validate:"required,gte=0"`
}

type Persona struct {
	// Display name of the expert
	Name string `yaml:"name" example:"bargainer" validate:"required"`
	// Tone instruction for the generator
	Tone string `yaml:"tone" example:"friendly, firm on price"`
	// Topics the expert may talk about
	Topics []string `yaml:"topics"`
	// Free-form instructions appended to the prompt
	Instructions string `yaml:"instructions"`
	// Priority of replies produced by this expert (low, normal, high, urgent)
	Priority string `yaml:"priority" example:"high" validate:"omitempty,oneof=low normal high urgent"`
}

type Negotiation struct {
	// Fraction of the listed-floor gap conceded at each step, non-decreasing, within [0,1]
	Ladder []float64 `yaml:"ladder" example:"[0.25, 0.5, 0.75, 1]" validate:"min=1,dive,gte=0,lte=1"`
	// Floor price as a fraction of the listed price when no per-item floor is set
	FloorRatio float64 `yaml:"floor_ratio" example:"0.8" validate:"gt=0,lte=1"`
	// Non-offer turns after which a repeated offer advances the ladder again, 0 never
	PatienceTurns *int `yaml:"patience_turns" example:"2" validate:"required,gte=0"`
	// Open negotiations idle longer than this are abandoned
	IdleTimeout time.Duration `yaml:"idle_timeout" example:"24h" validate:"gte=0"`
	// Per-item prices keyed by marketplace item id
	Items map[string]Item `yaml:"items" validate:"dive"`
	// What counts as a price offer in buyer messages
	Offer OfferGrammar `yaml:"offer"`
}

// OfferGrammar decides which numbers in a buyer message are price offers.
// Matching is case-insensitive.
type OfferGrammar struct {
	// Written right before an amount
	CurrencyPrefixes []string `yaml:"currency_prefixes" example:"[\"¥\", \"rmb\"]"`
	// Written right after an amount
	CurrencySuffixes []string `yaml:"currency_suffixes" example:"[\"元\", \"块\"]"`
	// Words that make a nearby number an offer
	PriceWords []string `yaml:"price_words" example:"[\"出\", \"便宜\", \"offer\"]"`
	// Suffixes that make a number a quantity, size or model instead
	UnitSuffixes []string `yaml:"unit_suffixes" example:"[\"gb\", \"寸\", \"个\"]"`
	// Max runes between a price word and the amount
	Window int `yaml:"window" example:"4" validate:"gt=0"`
}

type Item struct {
	Listed float64 `yaml:"listed" example:"100" validate:"gt=0"`
	Floor  float64 `yaml:"floor" example:"70" validate:"gte=0"`
}

type Middleware struct {
	Workers int `yaml:"workers" example:"3" validate:"gt=0"`
	// Items held by running conversations, paused ones do not count
	QueueSize int `yaml:"queue_size" example:"100" validate:"gt=0"`
	// Items held by one conversation
	LaneSize        int           `yaml:"lane_size" example:"20" validate:"gt=0"`
	MaxAttempts     int           `yaml:"max_attempts" example:"3" validate:"gt=0"`
	BaseBackoff     time.Duration `yaml:"base_backoff" example:"2s" validate:"gt=0"`
	MaxBackoff      time.Duration `yaml:"max_backoff" example:"1m" validate:"gtefield=BaseBackoff"`
	AgingThreshold  time.Duration `yaml:"aging_threshold" example:"30s" validate:"gt=0"`
	GenerateTimeout time.Duration `yaml:"generate_timeout" example:"30s" validate:"gt=0"`
	DeliverTimeout  time.Duration `yaml:"deliver_timeout" example:"10s" validate:"gt=0"`
	LeaseTTL        time.Duration `yaml:"lease_ttl" example:"2m" validate:"gtfield=GenerateTimeout"`
	// Inbound messages older than this are dropped
	MessageExpiry time.Duration `yaml:"message_expiry" example:"5m" validate:"gte=0"`
	DedupCapacity int           `yaml:"dedup_capacity" example:"10000" validate:"gt=0"`
}

type Store struct {
	// Turns retained per conversation
	HistoryLimit int `yaml:"history_limit" example:"40" validate:"gt=0"`
	// Directory for conversation snapshots and dead letters
	DataDir string `yaml:"data_dir" example:"data" validate:"required"`
}

func Load() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = defaultPath
	}

	return LoadFile(path)
}

func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, oops.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var result Config

	if err := yaml.Unmarshal(data, &result); err != nil {
		return nil, oops.Errorf("failed to parse YAML config: %w", err)
	}

	ApplyDefaults(&result)

	if err := Validate(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func Validate(cfg *Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return oops.Errorf("failed to validate config: %w", err)
	}

	if err := validateDomain(cfg); err != nil {
		return oops.Errorf("inconsistent config: %w", err)
	}

	return nil
}
