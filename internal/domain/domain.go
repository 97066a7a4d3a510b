package domain

type Suit struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Version   int           `json:"version"`
	Size      int           `json:"size"`
	Armor     []ArmorRecord `json:"armor,omitempty"`
	CreatedAt string        `json:"created_at" format:"date-time"`
	UpdatedAt string        `json:"updated_at" format:"date-time"`
	// Revision identifies the stored state; it changes on every write.
	Revision string `json:"-"`
}

// ArmorRecord is the flat, persisted form of one armor.Armor.
type ArmorRecord struct {
	Kind           string `json:"kind"`
	Damaged        bool   `json:"damaged"`
	PowerRemaining int    `json:"power_remaining"`
	Count          int    `json:"count"`
	Connected      bool   `json:"connected"`
	Version        int    `json:"version"`
}

type Compatibility struct {
	SuitID     string `json:"suit_id"`
	Version    int    `json:"version"`
	Size       int    `json:"size"`
	Compatible bool   `json:"compatible"`
}

type RepairReport struct {
	SuitID   string `json:"suit_id"`
	Repaired int    `json:"repaired"`
	Suit     Suit   `json:"suit"`
}

type Event struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts" format:"date-time"`
	Type    string `json:"type"`
	SuitID  string `json:"suit_id,omitempty"`
	ActorID string `json:"actor_id"`
	Payload string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
