package config

import (
	"errors"
	"fmt"
	"time"
)

func ApplyDefaults(cfg *Config) {
	if cfg.HTTP.Listen == "" {
		cfg.HTTP.Listen = ":8080"
	}

	if len(cfg.Seller.ToggleKeywords) == 0 {
		cfg.Seller.ToggleKeywords = []string{"。"}
	}
	if cfg.Seller.ManualModeTimeout == 0 {
		cfg.Seller.ManualModeTimeout = time.Hour
	}

	if cfg.OpenAI.Temperature == 0 {
		cfg.OpenAI.Temperature = 0.7
	}
	if cfg.OpenAI.MaxTokens == 0 {
		cfg.OpenAI.MaxTokens = 500
	}

	if len(cfg.Identity.SellerLexicon) == 0 {
		cfg.Identity.SellerLexicon = []string{
			"包邮", "已发货", "给您发", "我这边", "库存", "亲", "拍下", "改价",
			"in stock", "i can ship", "i will ship", "my listing",
		}
	}
	if len(cfg.Identity.BuyerLexicon) == 0 {
		cfg.Identity.BuyerLexicon = []string{
			"还在吗", "能便宜", "便宜点", "我想买", "我要了", "多少钱", "可以少",
			"still available", "can you do", "i want to buy", "how much", "i'll take",
		}
	}
	if cfg.Identity.Threshold == 0 {
		cfg.Identity.Threshold = 0.6
	}

	if cfg.Router.Keywords == nil {
		cfg.Router.Keywords = map[string][]string{
			"pricing": {
				"便宜", "价格", "优惠", "少点", "砍价", "最低", "多少钱", "元", "块",
				"price", "discount", "cheaper", "lowest", "offer", "deal",
			},
			"technical": {
				"参数", "配置", "型号", "尺寸", "怎么用", "故障", "坏了", "不能用", "兼容",
				"spec", "model", "size", "broken", "not working", "how to use", "compatible",
			},
			"after_sales": {
				"发货", "快递", "物流", "退款", "退货", "售后", "收货", "换货",
				"shipping", "delivery", "tracking", "refund", "return", "exchange",
			},
		}
	}
	if cfg.Router.MaxOffTopicTurns == nil {
		cfg.Router.MaxOffTopicTurns = intPtr(3)
	}

	if cfg.Experts == nil {
		cfg.Experts = map[string]Persona{
			"general": {
				Name:     "assistant",
				Tone:     "friendly and concise",
				Topics:   []string{"item availability", "item condition", "greetings"},
				Priority: "normal",
			},
			"pricing": {
				Name:         "bargainer",
				Tone:         "polite but firm on price",
				Topics:       []string{"price", "discounts", "bundles"},
				Instructions: "Never offer a price below the counter price you were given.",
				Priority:     "high",
			},
			"technical": {
				Name:     "specialist",
				Tone:     "precise and patient",
				Topics:   []string{"specifications", "usage", "troubleshooting"},
				Priority: "normal",
			},
			"after_sales": {
				Name:     "support",
				Tone:     "apologetic and helpful",
				Topics:   []string{"shipping", "refunds", "returns"},
				Priority: "high",
			},
		}
	}

	if len(cfg.Negotiation.Ladder) == 0 {
		cfg.Negotiation.Ladder = []float64{0.25, 0.5, 0.75, 1}
	}
	if cfg.Negotiation.FloorRatio == 0 {
		cfg.Negotiation.FloorRatio = 0.8
	}
	if cfg.Negotiation.PatienceTurns == nil {
		cfg.Negotiation.PatienceTurns = intPtr(2)
	}
	if cfg.Negotiation.IdleTimeout == 0 {
		cfg.Negotiation.IdleTimeout = 24 * time.Hour
	}

	applyOfferDefaults(&cfg.Negotiation.Offer)
	applyMiddlewareDefaults(&cfg.Middleware)

	if cfg.Store.HistoryLimit == 0 {
		cfg.Store.HistoryLimit = 40
	}
	if cfg.Store.DataDir == "" {
		cfg.Store.DataDir = "data"
	}
}

// DefaultOfferGrammar is used for every list left unset.
func DefaultOfferGrammar() OfferGrammar {
	return OfferGrammar{
		CurrencyPrefixes: []string{"¥", "￥", "rmb", "cny", "$"},
		CurrencySuffixes: []string{"元", "块", "rmb", "yuan", "cny"},
		PriceWords: []string{
			"出", "卖", "给", "收", "便宜", "最低", "砍", "包邮", "行", "可以", "成交",
			"offer", "for", "take", "at", "pay", "price", "how about", "deal", "ok",
		},
		UnitSuffixes: []string{
			"g", "gb", "t", "tb", "m", "mb", "k", "w", "mah", "hz", "mm", "cm", "pro", "max", "plus",
			"寸", "英寸", "年", "个", "岁", "天", "月", "周", "号", "次", "件", "台", "张", "斤", "公斤",
			"米", "代", "款", "手", "成新", "折", "%", "楼",
		},
		Window: 4,
	}
}

func applyOfferDefaults(g *OfferGrammar) {
	def := DefaultOfferGrammar()

	if g.CurrencyPrefixes == nil {
		g.CurrencyPrefixes = def.CurrencyPrefixes
	}
	if g.CurrencySuffixes == nil {
		g.CurrencySuffixes = def.CurrencySuffixes
	}
	if g.PriceWords == nil {
		g.PriceWords = def.PriceWords
	}
	if g.UnitSuffixes == nil {
		g.UnitSuffixes = def.UnitSuffixes
	}
	if g.Window == 0 {
		g.Window = def.Window
	}
}

func intPtr(v int) *int {
	return &v
}

func applyMiddlewareDefaults(m *Middleware) {
	if m.Workers == 0 {
		m.Workers = 3
	}
	if m.QueueSize == 0 {
		m.QueueSize = 100
	}
	if m.LaneSize == 0 {
		m.LaneSize = 20
	}
	if m.MaxAttempts == 0 {
		m.MaxAttempts = 3
	}
	if m.BaseBackoff == 0 {
		m.BaseBackoff = 2 * time.Second
	}
	if m.MaxBackoff == 0 {
		m.MaxBackoff = time.Minute
	}
	if m.AgingThreshold == 0 {
		m.AgingThreshold = 30 * time.Second
	}
	if m.GenerateTimeout == 0 {
		m.GenerateTimeout = 30 * time.Second
	}
	if m.DeliverTimeout == 0 {
		m.DeliverTimeout = 10 * time.Second
	}
	if m.LeaseTTL == 0 {
		m.LeaseTTL = 2 * time.Minute
	}
	if m.MessageExpiry == 0 {
		m.MessageExpiry = 5 * time.Minute
	}
	if m.DedupCapacity == 0 {
		m.DedupCapacity = 10000
	}
}

func validateDomain(cfg *Config) error {
	if !cfg.Transport.DisableDelivery && cfg.Transport.WebhookURL == "" {
		return errors.New("transport.webhook_url is required unless delivery is disabled")
	}

	ladder := cfg.Negotiation.Ladder
	for i := 1; i < len(ladder); i++ {
		if ladder[i] < ladder[i-1] {
			return fmt.Errorf("negotiation.ladder must be non-decreasing, step %d (%v) < step %d (%v)",
				i, ladder[i], i-1, ladder[i-1])
		}
	}

	for id, item := range cfg.Negotiation.Items {
		if item.Floor > item.Listed {
			return fmt.Errorf("negotiation.items[%s]: floor %v above listed %v", id, item.Floor, item.Listed)
		}
	}

	return nil
}
