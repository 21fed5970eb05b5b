package identity

import (
	"testing"

	"xianyuagent/app/config"
	"xianyuagent/app/util/fault"

	"github.com/samber/do"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDetector(t *testing.T) *Detector {
	t.Helper()

	d, err := NewDetector("seller-1", config.Identity{
		SellerLexicon: []string{"包邮", "已发货", "In Stock"},
		BuyerLexicon:  []string{"还在吗", "便宜点", "how much", "i want to buy"},
		Threshold:     0.6,
	})
	require.NoError(t, err)

	return d
}

func TestDetectConfiguredSeller(t *testing.T) {
	d := newTestDetector(t)

	got := d.Detect("seller-1", "还在吗", RoleBuyer)
	assert.Equal(t, RoleSeller, got.Role)
	assert.Equal(t, 1.0, got.Confidence)
}

func TestDetectTieDefaultsToBuyer(t *testing.T) {
	d := newTestDetector(t)

	got := d.Detect("stranger", "hello", RoleUnknown)
	assert.Equal(t, RoleBuyer, got.Role)
	assert.True(t, got.LowConfidence)
	assert.False(t, got.FromMemory)
}

func TestDetectStrongSignal(t *testing.T) {
	d := newTestDetector(t)

	got := d.Detect("x", "包邮, in stock, 已发货", RoleBuyer)
	assert.Equal(t, RoleSeller, got.Role)
	assert.InDelta(t, 0.75, got.Confidence, 1e-9)
	assert.False(t, got.LowConfidence)
	assert.False(t, got.FromMemory)
}

func TestDetectWeakSignalKeepsMemory(t *testing.T) {
	d := newTestDetector(t)

	// one seller phrase gives confidence 0.5, below the threshold
	got := d.Detect("x", "包邮吗", RoleBuyer)
	assert.Equal(t, RoleBuyer, got.Role)
	assert.True(t, got.FromMemory)
}

func TestDetectIdempotentUnderRepeatedWeakInput(t *testing.T) {
	d := newTestDetector(t)

	messages := []string{"包邮吗", "ok", "已发货?", "how much 包邮", "好的"}

	for _, memory := range []Role{RoleBuyer, RoleSeller} {
		for i := 0; i < 3; i++ {
			for _, text := range messages {
				got := d.Detect("x", text, memory)
				require.Equal(t, memory, got.Role, "text %q flipped role %s", text, memory)
			}
		}
	}
}

func TestNewDetectorRejectsOverlap(t *testing.T) {
	_, err := NewDetector("", config.Identity{
		SellerLexicon: []string{"Price"},
		BuyerLexicon:  []string{"price "},
		Threshold:     0.5,
	})
	require.Error(t, err)
	assert.True(t, fault.IsFatal(err))
}

func TestNewFromInjector(t *testing.T) {
	di := do.New()
	cfg := &config.Config{Seller: config.Seller{ID: "s"}}
	config.ApplyDefaults(cfg)
	do.ProvideValue(di, cfg)

	d, err := New(di)
	require.NoError(t, err)
	assert.Equal(t, RoleSeller, d.Detect("s", "", RoleUnknown).Role)
}
