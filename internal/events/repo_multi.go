package events

import (
	"context"
	"errors"
)

// MultiRepo fans an event out to several repositories, e.g. the Postgres table and the
// Redis channel. Every repository is attempted; the errors are joined.
type MultiRepo []Repository

func (m MultiRepo) Append(ctx context.Context, e Event) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Append(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
