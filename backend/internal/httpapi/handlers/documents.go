package handlers

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

type VersionReader interface {
	CurrentVersion(ctx context.Context, documentID string) (int64, error)
}

type DocumentHandler struct {
	versions VersionReader
}

func NewDocumentHandler(v VersionReader) *DocumentHandler {
	return &DocumentHandler{versions: v}
}

// GetVersion 返回文档当前版本号，客户端打开文档时用它初始化 localVersion
func (h *DocumentHandler) GetVersion(c *gin.Context) {
	documentID := c.Param("documentId")
	if documentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing documentId"})
		return
	}
	version, err := h.versions.CurrentVersion(c.Request.Context(), documentID)
	if err != nil {
		log.Printf("get version error (doc=%s): %v", documentID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "VERSION_LOOKUP_FAILED"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"documentId": documentID, "currentVersion": version})
}
