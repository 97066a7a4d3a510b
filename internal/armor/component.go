package armor

import "fmt"

// Kind names a suit part.
type Kind string

const (
	KindHelmet         Kind = "helmet"
	KindLeftThrusters  Kind = "left_thrusters"
	KindRightThrusters Kind = "right_thrusters"
	KindLeftRepulsor   Kind = "left_repulsor"
	KindRightRepulsor  Kind = "right_repulsor"
	KindChestPiece     Kind = "chest_piece"
	KindMissiles       Kind = "missiles"
	KindArcReactor     Kind = "arc_reactor"
	KindWifi           Kind = "wifi"
)

// Kinds lists every known kind in declaration order.
var Kinds = []Kind{
	KindHelmet,
	KindLeftThrusters,
	KindRightThrusters,
	KindLeftRepulsor,
	KindRightRepulsor,
	KindChestPiece,
	KindMissiles,
	KindArcReactor,
	KindWifi,
}

// RepairedPower is the power level a repaired part is restored to.
const RepairedPower = 100

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown component kind %q", s)
	}
	return k, nil
}

func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// HasDamage reports whether parts of this kind track a damaged flag.
func (k Kind) HasDamage() bool {
	return k == KindHelmet || k.Repairable()
}

// HasPower reports whether parts of this kind track remaining power.
func (k Kind) HasPower() bool {
	switch k {
	case KindLeftThrusters, KindRightThrusters, KindLeftRepulsor, KindRightRepulsor, KindChestPiece, KindArcReactor:
		return true
	}
	return false
}

// Repairable reports whether Repair restores parts of this kind.
func (k Kind) Repairable() bool {
	return k.HasPower() && k != KindArcReactor
}

// Component is one suit part and its condition. Only the fields carried by
// Kind are meaningful; the rest stay zero so values compare with ==.
type Component struct {
	Kind           Kind
	Damaged        bool
	PowerRemaining int
	Count          int
	Connected      bool
}

func Helmet(damaged bool) Component {
	return Component{Kind: KindHelmet, Damaged: damaged}
}

func LeftThrusters(damaged bool, power int) Component {
	return Component{Kind: KindLeftThrusters, Damaged: damaged, PowerRemaining: power}
}

func RightThrusters(damaged bool, power int) Component {
	return Component{Kind: KindRightThrusters, Damaged: damaged, PowerRemaining: power}
}

func LeftRepulsor(damaged bool, power int) Component {
	return Component{Kind: KindLeftRepulsor, Damaged: damaged, PowerRemaining: power}
}

func RightRepulsor(damaged bool, power int) Component {
	return Component{Kind: KindRightRepulsor, Damaged: damaged, PowerRemaining: power}
}

func ChestPiece(damaged bool, power int) Component {
	return Component{Kind: KindChestPiece, Damaged: damaged, PowerRemaining: power}
}

func Missiles(count int) Component {
	return Component{Kind: KindMissiles, Count: count}
}

func ArcReactor(power int) Component {
	return Component{Kind: KindArcReactor, PowerRemaining: power}
}

func Wifi(connected bool) Component {
	return Component{Kind: KindWifi, Connected: connected}
}

// Normalize clears the fields the component's kind does not carry.
func (c Component) Normalize() Component {
	out := Component{Kind: c.Kind}
	if c.Kind.HasDamage() {
		out.Damaged = c.Damaged
	}
	if c.Kind.HasPower() {
		out.PowerRemaining = c.PowerRemaining
	}
	switch c.Kind {
	case KindMissiles:
		out.Count = c.Count
	case KindWifi:
		out.Connected = c.Connected
	}
	return out
}

// Repaired returns the restored component and whether anything changed.
func (c Component) Repaired() (Component, bool) {
	if !c.Kind.Repairable() || !c.Damaged {
		return c, false
	}
	c.Damaged = false
	c.PowerRemaining = RepairedPower
	return c, true
}

func (c Component) String() string {
	switch {
	case c.Kind == KindHelmet:
		return fmt.Sprintf("Helmet(%t)", c.Damaged)
	case c.Kind.HasDamage():
		return fmt.Sprintf("%s(%t, %d)", c.Kind, c.Damaged, c.PowerRemaining)
	case c.Kind == KindMissiles:
		return fmt.Sprintf("Missiles(%d)", c.Count)
	case c.Kind == KindArcReactor:
		return fmt.Sprintf("ArcReactor(%d)", c.PowerRemaining)
	case c.Kind == KindWifi:
		return fmt.Sprintf("Wifi(%t)", c.Connected)
	}
	return fmt.Sprintf("Component(%s)", c.Kind)
}

// Armor pairs a component with the suit version it was built for.
type Armor struct {
	Component Component
	Version   int
}
