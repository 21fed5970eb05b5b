package expert

import (
	"fmt"
	"sort"

	"xianyuagent/app/config"
	"xianyuagent/app/service/message"
	"xianyuagent/app/service/negotiation"
	"xianyuagent/app/service/strategy"
	"xianyuagent/app/util/fault"

	"github.com/elliotchance/pie/v2"
	"github.com/samber/do"
)

type Persona struct {
	Name         string
	Strategy     strategy.Tag
	Tone         string
	Topics       []string
	Instructions string
	Priority     message.Priority
	// Negotiation is set for the pricing persona only.
	Negotiation *negotiation.Params
}

type Selector struct {
	personas map[strategy.Tag]Persona
}

func New(di *do.Injector) (*Selector, error) {
	cfg := do.MustInvoke[*config.Config](di)
	engine := do.MustInvoke[*negotiation.Engine](di)

	params := engine.Params()

	return NewSelector(cfg.Experts, &params)
}

// NewSelector fails when a persona key is not a strategy tag or a tag has no
// persona. Both are configuration errors caught at startup.
func NewSelector(experts map[string]config.Persona, params *negotiation.Params) (*Selector, error) {
	personas := make(map[strategy.Tag]Persona, len(experts))

	for key, p := range experts {
		tag, ok := strategy.ParseTag(key)
		if !ok {
			return nil, fault.Fatal("unrecognized expert", fmt.Errorf("strategy %q", key))
		}

		persona := Persona{
			Name:         p.Name,
			Strategy:     tag,
			Tone:         p.Tone,
			Topics:       append([]string(nil), p.Topics...),
			Instructions: p.Instructions,
			Priority:     message.ParsePriority(p.Priority),
		}
		if tag == strategy.TagPricing {
			persona.Negotiation = params
		}

		personas[tag] = persona
	}

	missing := pie.Filter(strategy.Tags, func(tag strategy.Tag) bool {
		_, ok := personas[tag]
		return !ok
	})
	if len(missing) > 0 {
		return nil, fault.Fatal("strategy without expert", fmt.Errorf("missing %v", missing))
	}

	return &Selector{personas: personas}, nil
}

// Select is a pure lookup.
func (s *Selector) Select(tag strategy.Tag) (Persona, error) {
	p, ok := s.personas[tag]
	if !ok {
		return Persona{}, fault.Fatal("unrecognized strategy", fmt.Errorf("strategy %q", tag))
	}
	return p, nil
}

func (s *Selector) List() []Persona {
	result := pie.Values(s.personas)
	sort.Slice(result, func(i, j int) bool {
		return result[i].Strategy < result[j].Strategy
	})
	return result
}
