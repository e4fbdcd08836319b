package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Harsh-BH/warden/internal/domain"
	"github.com/Harsh-BH/warden/internal/language"
)

// LanguageHandler handles language listing requests.
type LanguageHandler struct {
	languages *language.Registry
}

// NewLanguageHandler creates a new LanguageHandler.
func NewLanguageHandler(languages *language.Registry) *LanguageHandler {
	return &LanguageHandler{languages: languages}
}

// List handles GET /api/v1/languages
func (h *LanguageHandler) List(c *gin.Context) {
	specs := h.languages.List()
	languages := make([]domain.LanguageInfo, 0, len(specs))
	for _, s := range specs {
		languages = append(languages, s.Info())
	}

	c.JSON(http.StatusOK, gin.H{
		"languages": languages,
	})
}
