package armor

// Suit is a list of parts plus the version every part must match.
type Suit struct {
	Armor   *List
	Version int
}

func NewSuit(version int) *Suit {
	return &Suit{Armor: NewList(), Version: version}
}

// IsCompatible reports whether every record in the suit carries the suit's
// version. An empty suit is compatible.
func (s *Suit) IsCompatible() bool {
	cursor := s.list().Clone()
	for {
		a, ok := cursor.Pop()
		if !ok {
			return true
		}
		if a.Version != s.Version {
			return false
		}
	}
}

// Repair restores every damaged repairable part to full power, head to tail,
// and returns how many parts were fixed. The suit's list keeps its head and
// size; node contents change in place.
func (s *Suit) Repair() int {
	cursor := s.list().Clone()
	repaired := 0
	for {
		head := cursor.headNode()
		if head == nil {
			return repaired
		}
		if head.update(repairArmor) {
			repaired++
		}
		cursor.Pop()
	}
}

func repairArmor(a Armor) (Armor, bool) {
	c, changed := a.Component.Repaired()
	a.Component = c
	return a, changed
}

func (s *Suit) list() *List {
	if s.Armor == nil {
		return NewList()
	}
	return s.Armor
}
