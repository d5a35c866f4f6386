// Package display renders the signage pages: the polling index and the
// personalised ad for one member.
package display

import (
	"fmt"
	"time"

	"github.com/your-org/faceads/internal/models"
)

// MaxAdPurchases caps the purchase lines shown on an ad.
const MaxAdPurchases = 5

// AdView is the data handed to the ad template.
type AdView struct {
	MemberID  string
	Headline  string
	Purchases []PurchaseLine
}

type PurchaseLine struct {
	Label string // "<item> x<amount>"
	Ago   string
	Offer string
}

// IndexView is the data handed to the polling page.
type IndexView struct {
	PollMillis int64
}

// BuildAdView prepares the ad for m as of now. Purchases are expected newest
// first.
func BuildAdView(m *models.Member, offer string, now time.Time) AdView {
	v := AdView{
		MemberID: m.ID,
		Headline: Headline(m.ID),
	}

	for i, p := range m.Purchases {
		if i == MaxAdPurchases {
			break
		}
		v.Purchases = append(v.Purchases, PurchaseLine{
			Label: fmt.Sprintf("%s x%d", p.Item, p.Amount),
			Ago:   FormatElapsed(now.Sub(p.Timestamp)),
			Offer: offer,
		})
	}
	return v
}

// Headline greets the member by the first eight characters of their id.
func Headline(memberID string) string {
	short := memberID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("Member %s, welcome back!", short)
}

// FormatElapsed renders d in its largest whole unit: 45s, 12m, 5h, 3d.
// Negative durations count as zero.
func FormatElapsed(d time.Duration) string {
	s := int64(d / time.Second)
	switch {
	case s < 0:
		return "0s"
	case s < 60:
		return fmt.Sprintf("%ds", s)
	case s < 3600:
		return fmt.Sprintf("%dm", s/60)
	case s < 86400:
		return fmt.Sprintf("%dh", s/3600)
	default:
		return fmt.Sprintf("%dd", s/86400)
	}
}
