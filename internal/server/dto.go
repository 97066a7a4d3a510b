package server

import (
	"encoding/json"

	"armory/internal/armor"
	"armory/internal/domain"
)

// Request payloads

type CreateSuitRequest struct {
	ID      string `json:"id,omitempty" example:"mark-42"`
	Name    string `json:"name,omitempty" example:"Mark XLII"`
	Version *int   `json:"version,omitempty"`
}

type PushArmorRequest struct {
	Kind           string `json:"kind" enum:"helmet,left_thrusters,right_thrusters,left_repulsor,right_repulsor,chest_piece,missiles,arc_reactor,wifi"`
	Damaged        bool   `json:"damaged,omitempty"`
	PowerRemaining int    `json:"power_remaining,omitempty"`
	Count          int    `json:"count,omitempty"`
	Connected      bool   `json:"connected,omitempty"`
	Version        int    `json:"version"`
}

func (r PushArmorRequest) armor() armor.Armor {
	return armor.Armor{
		Component: armor.Component{
			Kind:           armor.Kind(r.Kind),
			Damaged:        r.Damaged,
			PowerRemaining: r.PowerRemaining,
			Count:          r.Count,
			Connected:      r.Connected,
		}.Normalize(),
		Version: r.Version,
	}
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

// Responses

type ArmorResponse struct {
	Kind           string `json:"kind"`
	Damaged        *bool  `json:"damaged,omitempty"`
	PowerRemaining *int   `json:"power_remaining,omitempty"`
	Count          *int   `json:"count,omitempty"`
	Connected      *bool  `json:"connected,omitempty"`
	Version        int    `json:"version"`
}

type SuitResponse struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Version   int             `json:"version"`
	Size      int             `json:"size"`
	Armor     []ArmorResponse `json:"armor"`
	CreatedAt string          `json:"created_at" format:"date-time"`
	UpdatedAt string          `json:"updated_at" format:"date-time"`
}

type HeadResponse struct {
	Found bool           `json:"found"`
	Armor *ArmorResponse `json:"armor,omitempty"`
}

type CompatibilityResponse struct {
	SuitID     string `json:"suit_id"`
	Version    int    `json:"version"`
	Size       int    `json:"size"`
	Compatible bool   `json:"compatible"`
}

type RepairResponse struct {
	SuitID   string       `json:"suit_id"`
	Repaired int          `json:"repaired"`
	Suit     SuitResponse `json:"suit"`
}

type EventResponse struct {
	ID      int64          `json:"id"`
	TS      string         `json:"ts" format:"date-time"`
	Type    string         `json:"type"`
	SuitID  string         `json:"suit_id,omitempty"`
	ActorID string         `json:"actor_id"`
	Payload map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Source  string `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// armorResponse only sets the fields the kind carries.
func armorResponse(rec domain.ArmorRecord) ArmorResponse {
	out := ArmorResponse{Kind: rec.Kind, Version: rec.Version}
	kind := armor.Kind(rec.Kind)
	if kind.HasDamage() {
		out.Damaged = &rec.Damaged
	}
	if kind.HasPower() {
		out.PowerRemaining = &rec.PowerRemaining
	}
	switch kind {
	case armor.KindMissiles:
		out.Count = &rec.Count
	case armor.KindWifi:
		out.Connected = &rec.Connected
	}
	return out
}

func suitResponse(s domain.Suit) SuitResponse {
	out := SuitResponse{
		ID:        s.ID,
		Name:      s.Name,
		Version:   s.Version,
		Size:      s.Size,
		Armor:     make([]ArmorResponse, 0, len(s.Armor)),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
	for _, rec := range s.Armor {
		out.Armor = append(out.Armor, armorResponse(rec))
	}
	return out
}

func mapSuits(items []domain.Suit) []SuitResponse {
	out := make([]SuitResponse, 0, len(items))
	for _, s := range items {
		out = append(out, suitResponse(s))
	}
	return out
}

func headResponse(a armor.Armor, found bool) HeadResponse {
	if !found {
		return HeadResponse{}
	}
	resp := armorResponse(domain.RecordFromArmor(a))
	return HeadResponse{Found: true, Armor: &resp}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:      e.ID,
		TS:      e.TS,
		Type:    e.Type,
		SuitID:  e.SuitID,
		ActorID: e.ActorID,
		Payload: decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}
