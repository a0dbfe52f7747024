package oracle

import (
	"context"
	"strings"
)

// Static serves a fixed set of names
type Static struct {
	names map[string]struct{}
	err   error
}

func NewStatic(names ...string) *Static {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[strings.ToLower(strings.TrimSpace(n))] = struct{}{}
	}
	return &Static{names: set}
}

// Failing returns an oracle whose every lookup fails with err
func Failing(err error) *Static {
	return &Static{err: err}
}

func (s *Static) ExistingNames(ctx context.Context) (map[string]struct{}, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.names, nil
}
