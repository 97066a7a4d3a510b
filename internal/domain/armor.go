package domain

import "armory/internal/armor"

// RecordFromArmor flattens an armor value for storage and transport.
func RecordFromArmor(a armor.Armor) ArmorRecord {
	c := a.Component.Normalize()
	return ArmorRecord{
		Kind:           string(c.Kind),
		Damaged:        c.Damaged,
		PowerRemaining: c.PowerRemaining,
		Count:          c.Count,
		Connected:      c.Connected,
		Version:        a.Version,
	}
}

// Armor rebuilds the armor value, rejecting unknown kinds.
func (r ArmorRecord) Armor() (armor.Armor, error) {
	kind, err := armor.ParseKind(r.Kind)
	if err != nil {
		return armor.Armor{}, err
	}
	c := armor.Component{
		Kind:           kind,
		Damaged:        r.Damaged,
		PowerRemaining: r.PowerRemaining,
		Count:          r.Count,
		Connected:      r.Connected,
	}
	return armor.Armor{Component: c.Normalize(), Version: r.Version}, nil
}
