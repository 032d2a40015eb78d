package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/whiskertales/backend/internal/services"
)

// ShareHandler serves the unauthenticated public endpoints for shared
// stories.
type ShareHandler struct {
	simplificationService services.SimplificationService
}

func NewShareHandler(simplificationService services.SimplificationService) *ShareHandler {
	return &ShareHandler{simplificationService: simplificationService}
}

func (sh *ShareHandler) Resolve(c *gin.Context) {
	sim, err := sh.simplificationService.ResolveShareToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		respondError(c, err)
		return
	}
	// Public payload only: no cost, token, or feedback fields.
	c.JSON(http.StatusOK, gin.H{
		"simplification": gin.H{
			"generated_title": sim.GeneratedTitle,
			"story":           sim.Story,
			"summary":         sim.Summary,
			"key_concepts":    sim.KeyConcepts,
			"complexity":      sim.Complexity,
			"created_at":      sim.CreatedAt,
		},
	})
}

// Download returns the shared story as a plain-text attachment.
func (sh *ShareHandler) Download(c *gin.Context) {
	sim, err := sh.simplificationService.ResolveShareToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		respondError(c, err)
		return
	}
	var story string
	if sim.Story != nil {
		story = *sim.Story
	}
	name := sim.GeneratedTitle
	if name == "" {
		name = "story"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".txt"))
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(sim.GeneratedTitle+"\n\n"+story))
}

func (sh *ShareHandler) ListPublic(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	sims, err := sh.simplificationService.ListPublic(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]gin.H, 0, len(sims))
	for _, sim := range sims {
		out = append(out, gin.H{
			"share_token":     sim.ShareToken,
			"generated_title": sim.GeneratedTitle,
			"summary":         sim.Summary,
			"complexity":      sim.Complexity,
			"created_at":      sim.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"simplifications": out})
}
