package memory

import (
	"context"
	"errors"
)

// MultiStore writes each observation to every wrapped store in order.
// All stores are attempted; their errors are joined.
type MultiStore []Store

// Store implements Store.
func (m MultiStore) Store(ctx context.Context, obs Observation) error {
	var errs []error
	for _, s := range m {
		if err := s.Store(ctx, obs); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
