package dto

type PurchaseResponse struct {
	Item      string `json:"item"`
	Amount    int    `json:"amount"`
	Timestamp string `json:"timestamp"`
}

type MemberResponse struct {
	ID        string             `json:"id"`
	FirstSeen string             `json:"first_seen"`
	LastSeen  string             `json:"last_seen"`
	Purchases []PurchaseResponse `json:"purchases"`
}

// LatestResponse is returned by GET /latest. MemberID is null when no
// visitor has been seen yet.
type LatestResponse struct {
	MemberID *string         `json:"member_id"`
	Member   *MemberResponse `json:"member,omitempty"`
}

type MemberListResponse struct {
	Members []MemberResponse `json:"members"`
	Total   int              `json:"total"`
}

// WSEvent is a WebSocket message for real-time visitor delivery.
type WSEvent struct {
	Type     string `json:"type"` // visitor_seen
	MemberID string `json:"member_id"`
	Created  bool   `json:"created"`
	SeenAt   string `json:"seen_at"`
}
