package ticket

import (
	"fmt"

	"github.com/google/uuid"
)

// orderedSet is an insertion-ordered ticket sequence with an index map
// kept in lockstep, giving O(1) membership and swap-with-last removal.
type orderedSet struct {
	tickets []*Ticket
	index   map[uuid.UUID]int
}

func newOrderedSet() *orderedSet {
	return &orderedSet{index: make(map[uuid.UUID]int)}
}

func (s *orderedSet) add(t *Ticket) error {
	if _, ok := s.index[t.ID]; ok {
		return fmt.Errorf("ticket %s already present", t.ID)
	}
	s.index[t.ID] = len(s.tickets)
	s.tickets = append(s.tickets, t)
	return nil
}

// removeAt removes the ticket at a verified position by swapping the last
// element into its slot.
func (s *orderedSet) removeAt(pos int) {
	last := len(s.tickets) - 1
	removed := s.tickets[pos]
	if pos != last {
		moved := s.tickets[last]
		s.tickets[pos] = moved
		s.index[moved.ID] = pos
	}
	s.tickets[last] = nil
	s.tickets = s.tickets[:last]
	delete(s.index, removed.ID)
}

// remove verifies a caller-supplied index hint and falls back to the index
// map when the hint is stale. An out-of-range hint is a hard error, never
// a silent fallback to another slot.
func (s *orderedSet) remove(id uuid.UUID, hint int) error {
	if hint < 0 || hint >= len(s.tickets) {
		return fmt.Errorf("index hint %d out of range [0, %d)", hint, len(s.tickets))
	}
	pos := hint
	if s.tickets[pos].ID != id {
		// Stale hint: recover via the index map. Cold path.
		actual, ok := s.index[id]
		if !ok {
			return fmt.Errorf("ticket %s not present", id)
		}
		pos = actual
	}
	s.removeAt(pos)
	return nil
}

func (s *orderedSet) page(offset, limit int) []*Ticket {
	if offset < 0 || offset >= len(s.tickets) || limit <= 0 {
		return nil
	}
	end := offset + limit
	if end > len(s.tickets) {
		end = len(s.tickets)
	}
	out := make([]*Ticket, end-offset)
	copy(out, s.tickets[offset:end])
	return out
}

// Registry is the source of truth for active tickets. It maintains the
// global active set plus one trading list per round; a round's trading
// list being empty is the predicate "no unresolved trading remains" used
// by round closing.
type Registry struct {
	active  *orderedSet
	byRound map[uint64]*orderedSet
}

func NewRegistry() *Registry {
	return &Registry{
		active:  newOrderedSet(),
		byRound: make(map[uint64]*orderedSet),
	}
}

// Register adds a ticket to the active set and its round's trading list.
func (r *Registry) Register(t *Ticket) error {
	if err := r.active.add(t); err != nil {
		return err
	}
	set, ok := r.byRound[t.Round]
	if !ok {
		set = newOrderedSet()
		r.byRound[t.Round] = set
	}
	if err := set.add(t); err != nil {
		// Roll the global add back so rejection stays total.
		_ = r.active.remove(t.ID, r.active.index[t.ID])
		return err
	}
	return nil
}

// Remove drops a ticket from the active set and its round's trading list.
// Called on exercise, cancellation, and mark-lost; the ticket itself is
// retained by its owner record as history.
func (r *Registry) Remove(t *Ticket) error {
	pos, ok := r.active.index[t.ID]
	if !ok {
		return fmt.Errorf("ticket %s not active", t.ID)
	}
	set, ok := r.byRound[t.Round]
	if !ok {
		return fmt.Errorf("round %d has no trading list", t.Round)
	}
	roundPos, ok := set.index[t.ID]
	if !ok {
		return fmt.Errorf("ticket %s not in round %d trading list", t.ID, t.Round)
	}
	if err := set.remove(t.ID, roundPos); err != nil {
		return err
	}
	r.active.removeAt(pos)
	return nil
}

// MoveToRound re-associates a ticket with another round's trading list,
// verifying the caller-supplied hint against the current round's list.
func (r *Registry) MoveToRound(t *Ticket, target uint64, hint int) error {
	set, ok := r.byRound[t.Round]
	if !ok {
		return fmt.Errorf("round %d has no trading list", t.Round)
	}
	if err := set.remove(t.ID, hint); err != nil {
		return err
	}
	targetSet, ok := r.byRound[target]
	if !ok {
		targetSet = newOrderedSet()
		r.byRound[target] = targetSet
	}
	if err := targetSet.add(t); err != nil {
		return err
	}
	t.Round = target
	return nil
}

// Get returns an active ticket by ID.
func (r *Registry) Get(id uuid.UUID) (*Ticket, bool) {
	pos, ok := r.active.index[id]
	if !ok {
		return nil, false
	}
	return r.active.tickets[pos], true
}

// IndexInRound returns a ticket's current position in its round's trading
// list, usable as a removal/migration hint.
func (r *Registry) IndexInRound(t *Ticket) (int, bool) {
	set, ok := r.byRound[t.Round]
	if !ok {
		return 0, false
	}
	pos, ok := set.index[t.ID]
	return pos, ok
}

// ActiveCount returns the number of active tickets overall.
func (r *Registry) ActiveCount() int {
	return len(r.active.tickets)
}

// TradingCountForRound returns the number of unresolved trading tickets
// bound to a round.
func (r *Registry) TradingCountForRound(round uint64) int {
	if set, ok := r.byRound[round]; ok {
		return len(set.tickets)
	}
	return 0
}

// GetActiveTickets returns a page of the active set, tolerant of limit
// exceeding the remaining length.
func (r *Registry) GetActiveTickets(offset, limit int) []*Ticket {
	return r.active.page(offset, limit)
}

// TicketsForRound returns a page of a round's trading list.
func (r *Registry) TicketsForRound(round uint64, offset, limit int) []*Ticket {
	if set, ok := r.byRound[round]; ok {
		return set.page(offset, limit)
	}
	return nil
}
