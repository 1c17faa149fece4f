package capture

import "github.com/dgnsrekt/netmon/internal/types"

// Store maps a host request identity to the record captured at request start.
// Entries live until Clear; nothing is evicted on timeout, so a response that
// arrives very late still correlates. Not safe for concurrent use; the
// pipeline serialises access.
type Store struct {
	pending map[any]*types.RequestRecord
}

func NewStore() *Store {
	return &Store{pending: make(map[any]*types.RequestRecord)}
}

// Put records rec under identity, replacing any earlier entry (browsers reuse
// the identity across redirects).
func (s *Store) Put(identity any, rec *types.RequestRecord) {
	s.pending[identity] = rec
}

func (s *Store) Get(identity any) (*types.RequestRecord, bool) {
	rec, ok := s.pending[identity]
	return rec, ok
}

func (s *Store) Clear() {
	s.pending = make(map[any]*types.RequestRecord)
}

func (s *Store) Len() int {
	return len(s.pending)
}
