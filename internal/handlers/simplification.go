package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/whiskertales/backend/internal/requestdata"
	"github.com/whiskertales/backend/internal/services"
)

type SimplificationHandler struct {
	simplificationService services.SimplificationService
}

func NewSimplificationHandler(simplificationService services.SimplificationService) *SimplificationHandler {
	return &SimplificationHandler{simplificationService: simplificationService}
}

func (sh *SimplificationHandler) Create(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	docID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
		return
	}
	var req struct {
		Complexity  string  `json:"complexity"`
		Model       string  `json:"model"`
		Temperature float64 `json:"temperature"`
		MaxTokens   int     `json:"max_tokens"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	sim, err := sh.simplificationService.Create(c.Request.Context(), rd.UserID, services.CreateSimplificationRequest{
		DocumentID:  docID,
		Complexity:  req.Complexity,
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"simplification": sim})
}

func (sh *SimplificationHandler) ListByDocument(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	docID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
		return
	}
	sims, err := sh.simplificationService.ListByDocument(c.Request.Context(), rd.UserID, docID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"simplifications": sims})
}

func (sh *SimplificationHandler) Get(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	simID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid simplification id"})
		return
	}
	sim, err := sh.simplificationService.Get(c.Request.Context(), rd.UserID, simID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"simplification": sim})
}

func (sh *SimplificationHandler) Feedback(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	simID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid simplification id"})
		return
	}
	var req struct {
		Favorite *bool   `json:"favorite"`
		Rating   *int    `json:"rating"`
		Notes    *string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	sim, err := sh.simplificationService.Feedback(c.Request.Context(), rd.UserID, simID, services.FeedbackRequest{
		Favorite: req.Favorite,
		Rating:   req.Rating,
		Notes:    req.Notes,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"simplification": sim})
}

func (sh *SimplificationHandler) Share(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	simID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid simplification id"})
		return
	}
	sim, err := sh.simplificationService.Share(c.Request.Context(), rd.UserID, simID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"simplification": sim})
}

func (sh *SimplificationHandler) Unshare(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	simID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid simplification id"})
		return
	}
	if err := sh.simplificationService.Unshare(c.Request.Context(), rd.UserID, simID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "sharing disabled"})
}
