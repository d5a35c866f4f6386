package models

import "time"

// Member is an anonymous visitor keyed by a derived identifier.
type Member struct {
	ID          string     `json:"id"`
	FirstSeenAt time.Time  `json:"first_seen_at"`
	LastSeenAt  time.Time  `json:"last_seen_at"`
	Purchases   []Purchase `json:"purchases"`
}

// Purchase is a synthetic purchase-history row seeded on first sighting.
type Purchase struct {
	MemberID  string    `json:"member_id"`
	Item      string    `json:"item"`
	Amount    int       `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// VisitorSeen is published after a member upsert has committed.
type VisitorSeen struct {
	EventID  string    `json:"event_id"`
	MemberID string    `json:"member_id"`
	Created  bool      `json:"created"`
	SeenAt   time.Time `json:"seen_at"`
}
