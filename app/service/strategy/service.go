package strategy

import (
	"fmt"
	"strings"

	"xianyuagent/app/config"
	"xianyuagent/app/service/identity"
	"xianyuagent/app/util/fault"

	"github.com/elliotchance/pie/v2"
	"github.com/samber/do"
)

type Tag string

const (
	TagGeneral    Tag = "general"
	TagPricing    Tag = "pricing"
	TagTechnical  Tag = "technical"
	TagAfterSales Tag = "after_sales"
)

// Tags lists every strategy the router can produce.
var Tags = []Tag{TagGeneral, TagPricing, TagTechnical, TagAfterSales}

func ParseTag(s string) (Tag, bool) {
	tag := Tag(s)
	return tag, pie.Contains(Tags, tag)
}

type Input struct {
	Role                identity.Role
	Text                string
	Active              Tag
	OffTopicTurns       int
	NegotiationActive   bool
	NegotiationTerminal bool
	// OfferMentioned is set when the message carries a parsable amount.
	OfferMentioned bool
}

type Decision struct {
	Tag           Tag  `json:"tag"`
	OffTopicTurns int  `json:"off_topic_turns"`
	Sticky        bool `json:"sticky"`
	// Released means pricing was left after too many off-topic turns.
	Released bool `json:"released"`
}

type Router struct {
	keywords    map[Tag][]string
	maxOffTopic int
}

func New(di *do.Injector) (*Router, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return NewRouter(cfg.Router)
}

func NewRouter(cfg config.Router) (*Router, error) {
	keywords := make(map[Tag][]string, len(cfg.Keywords))

	for name, words := range cfg.Keywords {
		tag, ok := ParseTag(name)
		if !ok || tag == TagGeneral {
			return nil, fault.Fatal("unrecognized routing table entry", fmt.Errorf("strategy %q", name))
		}

		keywords[tag] = pie.Map(words, func(w string) string {
			return strings.ToLower(strings.TrimSpace(w))
		})
	}

	maxOffTopic := 0
	if cfg.MaxOffTopicTurns != nil {
		maxOffTopic = *cfg.MaxOffTopicTurns
	}

	return &Router{
		keywords:    keywords,
		maxOffTopic: maxOffTopic,
	}, nil
}

// Route is deterministic in its input. Pricing is sticky: small talk keeps it
// until the negotiation is terminal or more than maxOffTopic consecutive
// off-topic turns have passed.
func (r *Router) Route(in Input) Decision {
	if in.Role == identity.RoleSeller {
		active := in.Active
		if active == "" {
			active = TagGeneral
		}
		return Decision{Tag: active, OffTopicTurns: in.OffTopicTurns}
	}

	text := strings.ToLower(in.Text)

	if r.matches(TagPricing, text) || (in.Active == TagPricing && in.OfferMentioned) {
		return Decision{Tag: TagPricing}
	}

	released := false
	if in.Active == TagPricing && !in.NegotiationTerminal {
		offTopic := in.OffTopicTurns + 1
		if offTopic <= r.maxOffTopic {
			return Decision{Tag: TagPricing, OffTopicTurns: offTopic, Sticky: true}
		}
		released = true
	} else if in.NegotiationActive && !in.NegotiationTerminal {
		return Decision{Tag: TagPricing}
	}

	return Decision{Tag: r.classify(text), Released: released}
}

func (r *Router) classify(text string) Tag {
	switch {
	case r.matches(TagTechnical, text):
		return TagTechnical
	case r.matches(TagAfterSales, text):
		return TagAfterSales
	default:
		return TagGeneral
	}
}

func (r *Router) matches(tag Tag, text string) bool {
	return pie.Any(r.keywords[tag], func(keyword string) bool {
		return keyword != "" && strings.Contains(text, keyword)
	})
}
