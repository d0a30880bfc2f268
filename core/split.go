package core

import (
	"errors"
	"fmt"
)

// splitTolerance absorbs float rounding when shares add up to exactly the total.
const splitTolerance = 1e-9

var ErrInvalidSplit = errors.New("invalid split")

// ValidateSplit checks that every share is non-negative, names a user and
// that the shares do not add up to more than total. It performs no
// settlement; the split is stored as given.
func ValidateSplit(total float64, shares []Share) error {
	var sum float64
	for i, s := range shares {
		if s.UserID == "" {
			return fmt.Errorf("%w: share %d has no user", ErrInvalidSplit, i)
		}
		if s.Amount < 0 {
			return fmt.Errorf("%w: share %d is negative", ErrInvalidSplit, i)
		}
		sum += s.Amount
	}
	if sum > total+splitTolerance {
		return fmt.Errorf("%w: shares total %.2f exceeds expense amount %.2f", ErrInvalidSplit, sum, total)
	}
	return nil
}
