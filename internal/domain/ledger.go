package domain

import "fmt"

// Ledger is the per-student point balance. Points always equals
// PointsEarned minus PointsSpent.
type Ledger struct {
	Points       int `json:"points" yaml:"points"`
	PointsEarned int `json:"pointsEarned" yaml:"pointsEarned"`
	PointsSpent  int `json:"pointsSpent" yaml:"pointsSpent"`
}

// Balanced reports whether the ledger satisfies its invariant.
func (l Ledger) Balanced() bool {
	return l.Points >= 0 && l.PointsEarned >= 0 && l.PointsSpent >= 0 &&
		l.Points == l.PointsEarned-l.PointsSpent
}

// Credit returns the ledger with amount added to both the spendable balance
// and the lifetime accrual.
func (l Ledger) Credit(amount int) (Ledger, error) {
	if amount < 0 {
		return l, fmt.Errorf("%w: negative credit %d", ErrInvalid, amount)
	}
	if !l.Balanced() {
		return l, fmt.Errorf("%w: unbalanced ledger %+v", ErrInvalid, l)
	}
	l.Points += amount
	l.PointsEarned += amount
	return l, nil
}

// NewLedger builds a ledger from lifetime totals.
func NewLedger(earned, spent int) (Ledger, error) {
	l := Ledger{Points: earned - spent, PointsEarned: earned, PointsSpent: spent}
	if !l.Balanced() {
		return Ledger{}, fmt.Errorf("%w: spent %d exceeds earned %d", ErrInvalid, spent, earned)
	}
	return l, nil
}
