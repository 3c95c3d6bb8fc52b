package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/lessonstream/internal/http/response"
	"github.com/yungbote/lessonstream/internal/lesson/assets"
)

type AssetHandler struct {
	store *assets.Store
}

func NewAssetHandler(store *assets.Store) *AssetHandler {
	return &AssetHandler{store: store}
}

// GET /api/assets/:id
func (h *AssetHandler) Get(c *gin.Context) {
	a, ok := h.store.Get(c.Param("id"))
	if !ok || len(a.Data) == 0 {
		response.NotFound(c, "asset not found or expired")
		return
	}
	c.Header("Cache-Control", "private, max-age=3600")
	c.Data(http.StatusOK, a.ContentType, a.Data)
}
