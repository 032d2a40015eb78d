package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/whiskertales/backend/internal/repos"
	"github.com/whiskertales/backend/internal/requestdata"
	"github.com/whiskertales/backend/internal/services"
)

type DocumentHandler struct {
	documentService services.DocumentService
	statsService    services.StatsService
}

func NewDocumentHandler(documentService services.DocumentService, statsService services.StatsService) *DocumentHandler {
	return &DocumentHandler{documentService: documentService, statsService: statsService}
}

func (dh *DocumentHandler) Upload(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}

	doc, err := dh.documentService.Upload(c.Request.Context(), services.UploadRequest{
		UserID:      rd.UserID,
		File:        file,
		Title:       c.PostForm("title"),
		Description: c.PostForm("description"),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"document": doc})
}

func (dh *DocumentHandler) List(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	docs, err := dh.documentService.List(c.Request.Context(), rd.UserID, repos.DocumentListFilter{
		Status: c.Query("status"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

func (dh *DocumentHandler) Get(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	docID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
		return
	}
	doc, err := dh.documentService.Get(c.Request.Context(), rd.UserID, docID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": doc})
}

// Content returns the extracted text separately from the metadata payload;
// it can run to megabytes.
func (dh *DocumentHandler) Content(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	docID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
		return
	}
	doc, err := dh.documentService.Get(c.Request.Context(), rd.UserID, docID)
	if err != nil {
		respondError(c, err)
		return
	}
	content := ""
	if doc.ExtractedContent != nil {
		content = *doc.ExtractedContent
	}
	c.JSON(http.StatusOK, gin.H{
		"document_id":   doc.ID,
		"status":        doc.Status,
		"content":       content,
		"content_stats": doc.ContentStats,
	})
}

func (dh *DocumentHandler) Update(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	docID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
		return
	}
	var req struct {
		Title       *string        `json:"title"`
		Description *string        `json:"description"`
		Metadata    map[string]any `json:"metadata"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	doc, err := dh.documentService.Update(c.Request.Context(), rd.UserID, docID, services.UpdateDocumentRequest{
		Title:       req.Title,
		Description: req.Description,
		Metadata:    req.Metadata,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": doc})
}

func (dh *DocumentHandler) Archive(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	docID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
		return
	}
	doc, err := dh.documentService.Archive(c.Request.Context(), rd.UserID, docID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": doc})
}

func (dh *DocumentHandler) Delete(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	docID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
		return
	}
	if err := dh.documentService.Delete(c.Request.Context(), rd.UserID, docID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "document deleted"})
}

func (dh *DocumentHandler) Restore(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	docID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
		return
	}
	doc, err := dh.documentService.Restore(c.Request.Context(), rd.UserID, docID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": doc})
}

func (dh *DocumentHandler) ForceDelete(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	docID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
		return
	}
	if err := dh.documentService.ForceDelete(c.Request.Context(), rd.UserID, docID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "document permanently deleted"})
}

func (dh *DocumentHandler) Download(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	docID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
		return
	}
	doc, data, err := dh.documentService.Download(c.Request.Context(), rd.UserID, docID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+doc.OriginalName+`"`)
	c.Data(http.StatusOK, doc.MimeType, data)
}

func (dh *DocumentHandler) Stats(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	stats, err := dh.statsService.Get(c.Request.Context(), rd.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}
