package fees

import (
	"sort"
	"sync"
	"time"

	"github.com/riteshkumar/agent-cash-ledger/internal/errors"
	"github.com/riteshkumar/agent-cash-ledger/internal/models"
)

// Quote is the fee engine output: fee charged and amount handed over.
type Quote struct {
	Fee       int64
	NetAmount int64
}

// Engine holds the append-only sequence of rank fee policy versions and
// prices movements deterministically from them. Pricing depends only on the
// arguments and the version effective at the given time, which is what makes
// settlement batches reproducible from movement history alone.
type Engine struct {
	mu       sync.RWMutex
	versions []models.FeePolicyVersion // sorted by EffectiveFrom ascending
}

func NewEngine(versions ...models.FeePolicyVersion) *Engine {
	e := &Engine{}
	for _, v := range versions {
		e.AddVersion(v)
	}
	return e
}

// DefaultPolicy is the seed revision: two amount brackets, officers exempt,
// OTP step-up at N30,000 and a N500,000 per-transaction ceiling.
func DefaultPolicy() models.FeePolicyVersion {
	return models.FeePolicyVersion{
		Version:       1,
		EffectiveFrom: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		OfficerRanks: []string{
			"Second Lieutenant", "Lieutenant", "Captain", "Major",
			"Lieutenant Colonel", "Colonel", "Brigadier General",
			"Major General", "Lieutenant General", "General",
		},
		Tiers: []models.FeeTier{
			{UpTo: 500_000, RateBps: 100, MinFee: 2_500}, // <= N5,000: 1%, min N25
			{UpTo: 0, RateBps: 50, MinFee: 5_000},        // above: 0.5%, min N50
		},
		OtpThreshold: 3_000_000,
		MaxPerTxn:    50_000_000,
	}
}

// AddVersion appends a new effective-dated revision. History is never
// mutated; a version with an EffectiveFrom earlier than an existing one is
// still inserted in order so lookups by time stay correct.
func (e *Engine) AddVersion(v models.FeePolicyVersion) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.versions = append(e.versions, v)
	sort.SliceStable(e.versions, func(i, j int) bool {
		return e.versions[i].EffectiveFrom.Before(e.versions[j].EffectiveFrom)
	})
}

// VersionAt returns the policy revision effective at t.
func (e *Engine) VersionAt(t time.Time) (models.FeePolicyVersion, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for i := len(e.versions) - 1; i >= 0; i-- {
		if !e.versions[i].EffectiveFrom.After(t) {
			return e.versions[i], nil
		}
	}
	return models.FeePolicyVersion{}, errors.ErrNoPolicy
}

// PriceQuote computes the fee for a movement. Officers pay zero; everyone
// else pays max(minFee, amount*rateBps/10000) with the tier selected by
// amount bracket. Rejects non-positive amounts and amounts over the ceiling.
func (e *Engine) PriceQuote(amount int64, rank string, direction models.Direction, at time.Time) (Quote, error) {
	if amount <= 0 {
		return Quote{}, errors.ErrInvalidAmount
	}
	policy, err := e.VersionAt(at)
	if err != nil {
		return Quote{}, err
	}
	if policy.MaxPerTxn > 0 && amount > policy.MaxPerTxn {
		return Quote{}, errors.ErrInvalidAmount
	}

	if isOfficer(policy, rank) {
		return Quote{Fee: 0, NetAmount: amount}, nil
	}

	tier := selectTier(policy.Tiers, amount)
	fee := amount * tier.RateBps / 10_000
	if fee < tier.MinFee {
		fee = tier.MinFee
	}
	return Quote{Fee: fee, NetAmount: amount - fee}, nil
}

// OtpThresholdAt returns the step-up threshold effective at t.
func (e *Engine) OtpThresholdAt(t time.Time) (int64, error) {
	policy, err := e.VersionAt(t)
	if err != nil {
		return 0, err
	}
	return policy.OtpThreshold, nil
}

func isOfficer(policy models.FeePolicyVersion, rank string) bool {
	for _, r := range policy.OfficerRanks {
		if r == rank {
			return true
		}
	}
	return false
}

func selectTier(tiers []models.FeeTier, amount int64) models.FeeTier {
	for _, t := range tiers {
		if t.UpTo == 0 || amount <= t.UpTo {
			return t
		}
	}
	// No unbounded bracket configured; the last tier prices the remainder.
	return tiers[len(tiers)-1]
}
