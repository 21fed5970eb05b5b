package identity

import (
	"fmt"
	"strings"

	"xianyuagent/app/config"
	"xianyuagent/app/util/fault"

	"github.com/elliotchance/pie/v2"
	"github.com/samber/do"
)

type Role string

const (
	RoleUnknown Role = ""
	RoleBuyer   Role = "buyer"
	RoleSeller  Role = "seller"
)

type Detection struct {
	Role          Role    `json:"role"`
	Confidence    float64 `json:"confidence"`
	LowConfidence bool    `json:"low_confidence"`
	FromMemory    bool    `json:"from_memory"`
}

// Detector classifies senders by lexicon scoring, biased towards the role
// remembered for that sender.
type Detector struct {
	sellerHandles []string
	seller        []string
	buyer         []string
	threshold     float64
}

func New(di *do.Injector) (*Detector, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return NewDetector(cfg.Seller.ID, cfg.Identity)
}

func NewDetector(sellerID string, cfg config.Identity) (*Detector, error) {
	seller := normalize(cfg.SellerLexicon)
	buyer := normalize(cfg.BuyerLexicon)

	if overlap := pie.Intersect(seller, buyer); len(overlap) > 0 {
		return nil, fault.Fatal("identity lexicons overlap", fmt.Errorf("shared phrases: %v", overlap))
	}

	var handles []string
	if sellerID != "" {
		handles = []string{sellerID}
	}

	return &Detector{
		sellerHandles: handles,
		seller:        seller,
		buyer:         buyer,
		threshold:     cfg.Threshold,
	}, nil
}

// Detect classifies a message. memory is the role remembered for the sender,
// RoleUnknown when there is none.
func (d *Detector) Detect(sender, text string, memory Role) Detection {
	if pie.Contains(d.sellerHandles, sender) {
		return Detection{Role: RoleSeller, Confidence: 1}
	}

	lower := strings.ToLower(text)
	sellerScore := countMatches(d.seller, lower)
	buyerScore := countMatches(d.buyer, lower)

	margin := sellerScore - buyerScore
	if margin < 0 {
		margin = -margin
	}
	confidence := float64(margin) / float64(margin+1)

	if memory != RoleUnknown && confidence < d.threshold {
		return Detection{
			Role:          memory,
			Confidence:    confidence,
			LowConfidence: true,
			FromMemory:    true,
		}
	}

	if sellerScore == buyerScore {
		return Detection{Role: RoleBuyer, Confidence: confidence, LowConfidence: true}
	}

	role := RoleBuyer
	if sellerScore > buyerScore {
		role = RoleSeller
	}

	return Detection{
		Role:          role,
		Confidence:    confidence,
		LowConfidence: confidence < d.threshold,
	}
}

func countMatches(lexicon []string, text string) int {
	return len(pie.Filter(lexicon, func(phrase string) bool {
		return strings.Contains(text, phrase)
	}))
}

func normalize(phrases []string) []string {
	return pie.Unique(pie.Filter(pie.Map(phrases, func(p string) string {
		return strings.ToLower(strings.TrimSpace(p))
	}), func(p string) bool {
		return p != ""
	}))
}
