package handler

import (
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"clipfactory/internal/dto"
	"clipfactory/internal/objectstore"
	"clipfactory/internal/response"
	apperrors "clipfactory/pkg/errors"

	"github.com/gin-gonic/gin"
)

func (h Handler) ListArtifacts(c *gin.Context) {
	root := c.Param("id")
	keys, err := h.Store.List(c.Request.Context(), objectstore.RootPrefix(root))
	if err != nil {
		response.ErrorResponse(c, err)
		return
	}
	response.Success(c, dto.ArtifactListResData{RootId: root, Keys: keys})
}

// DownloadArtifact serves one stored artifact. Filesystem stores are served
// from disk so range requests work for clip previews.
func (h Handler) DownloadArtifact(c *gin.Context) {
	key := strings.TrimPrefix(strings.TrimSpace(c.Param("key")), "/")
	if key == "" || hasParentTraversal(key) {
		c.Status(http.StatusBadRequest)
		return
	}
	ctx := c.Request.Context()

	exists, err := h.Store.Exists(ctx, key)
	if err != nil {
		response.ErrorResponse(c, err)
		return
	}
	if !exists {
		c.Status(http.StatusNotFound)
		return
	}

	if fs, ok := h.Store.(*objectstore.FileStore); ok {
		c.File(filepath.Join(fs.BasePath(), filepath.FromSlash(key)))
		return
	}
	if c.Request.Method == http.MethodHead {
		c.Status(http.StatusOK)
		return
	}
	data, err := h.Store.Get(ctx, key)
	if err != nil {
		if apperrors.Is(err, apperrors.CodeArtifactMissing) {
			c.Status(http.StatusNotFound)
			return
		}
		response.ErrorResponse(c, err)
		return
	}
	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Data(http.StatusOK, contentType, data)
}

func hasParentTraversal(p string) bool {
	for _, part := range strings.Split(strings.ReplaceAll(p, "\\", "/"), "/") {
		if part == ".." {
			return true
		}
	}
	return false
}
