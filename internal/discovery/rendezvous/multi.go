package rendezvous

import (
	"context"
	"slices"

	"go.uber.org/multierr"
)

// Multi fans announcements out to every backend and merges lookups. An
// operation fails only when every backend fails.
type Multi []Rendezvous

func (m Multi) Announce(ctx context.Context, topic []byte, addr string) error {
	return m.each(func(r Rendezvous) error { return r.Announce(ctx, topic, addr) })
}

func (m Multi) Unannounce(ctx context.Context, topic []byte, addr string) error {
	return m.each(func(r Rendezvous) error { return r.Unannounce(ctx, topic, addr) })
}

func (m Multi) Lookup(ctx context.Context, topic []byte) ([]string, error) {
	var (
		out  []string
		errs error
	)
	for _, r := range m {
		addrs, err := r.Lookup(ctx, topic)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		out = append(out, addrs...)
	}
	if len(m) > 0 && len(multierr.Errors(errs)) == len(m) {
		return nil, errs
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

func (m Multi) Close() error {
	var err error
	for _, r := range m {
		err = multierr.Append(err, r.Close())
	}
	return err
}

func (m Multi) each(fn func(Rendezvous) error) error {
	var errs error
	for _, r := range m {
		errs = multierr.Append(errs, fn(r))
	}
	if len(m) > 0 && len(multierr.Errors(errs)) == len(m) {
		return errs
	}
	return nil
}
