package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/faceads/internal/display"
	"github.com/your-org/faceads/internal/models"
	"github.com/your-org/faceads/pkg/dto"
)

// MemberReader is the read side of the member store.
type MemberReader interface {
	GetLatestMember(ctx context.Context) (*models.Member, error)
	GetMember(ctx context.Context, id string) (*models.Member, error)
	ListRecentMembers(ctx context.Context, limit int) ([]models.Member, error)
}

type MemberHandler struct {
	store    MemberReader
	renderer *display.Renderer
	offer    string
	now      func() time.Time
}

func NewMemberHandler(store MemberReader, renderer *display.Renderer, offer string) *MemberHandler {
	return &MemberHandler{store: store, renderer: renderer, offer: offer, now: time.Now}
}

// Latest returns the most recently seen member, or a null member_id.
func (h *MemberHandler) Latest(c *gin.Context) {
	c.Header("Cache-Control", "no-store")

	m, err := h.store.GetLatestMember(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if m == nil {
		c.JSON(http.StatusOK, dto.LatestResponse{})
		return
	}

	resp := toMemberResponse(m)
	c.JSON(http.StatusOK, dto.LatestResponse{MemberID: &m.ID, Member: &resp})
}

func (h *MemberHandler) Index(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := h.renderer.RenderIndex(c.Writer); err != nil {
		_ = c.Error(err)
	}
}

// Ad renders the personalised ad for ?member_id=. partial=1 returns only the
// card fragment for in-page swaps.
func (h *MemberHandler) Ad(c *gin.Context) {
	memberID := c.Query("member_id")
	if memberID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing member_id"})
		return
	}

	m, err := h.store.GetMember(c.Request.Context(), memberID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if m == nil {
		// Unknown ids still get the greeting, with no purchases.
		m = &models.Member{ID: memberID}
	}

	view := display.BuildAdView(m, h.offer, h.now())
	partial := c.Query("partial") == "1"

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Header("Cache-Control", "no-store")
	if err := h.renderer.RenderAd(c.Request.Context(), c.Writer, view, partial); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *MemberHandler) List(c *gin.Context) {
	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	members, err := h.store.ListRecentMembers(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.MemberResponse, 0, len(members))
	for i := range members {
		resp = append(resp, toMemberResponse(&members[i]))
	}
	c.JSON(http.StatusOK, dto.MemberListResponse{Members: resp, Total: len(resp)})
}

func (h *MemberHandler) Get(c *gin.Context) {
	m, err := h.store.GetMember(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if m == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "member not found"})
		return
	}
	c.JSON(http.StatusOK, toMemberResponse(m))
}

func toMemberResponse(m *models.Member) dto.MemberResponse {
	resp := dto.MemberResponse{
		ID:        m.ID,
		FirstSeen: m.FirstSeenAt.UTC().Format(time.RFC3339Nano),
		LastSeen:  m.LastSeenAt.UTC().Format(time.RFC3339Nano),
		Purchases: make([]dto.PurchaseResponse, 0, len(m.Purchases)),
	}
	for _, p := range m.Purchases {
		resp.Purchases = append(resp.Purchases, dto.PurchaseResponse{
			Item:      p.Item,
			Amount:    p.Amount,
			Timestamp: p.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	return resp
}
