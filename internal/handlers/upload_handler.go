package handlers

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const maxUploadBytes = 5 << 20

var allowedImageExt = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".gif": true}

// UploadImage handles POST /v1/admin/uploads
// It saves a product image under the upload dir and returns its public URL.
func (h *Handlers) UploadImage(c *gin.Context) {
	// 1. Get the file from the request
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}
	if file.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Image must be 5MB or smaller"})
		return
	}
	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !allowedImageExt[ext] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Only jpg, png, webp and gif images are allowed"})
		return
	}

	// 2. Create the upload directory if it doesn't exist
	uploadPath := h.Config.Server.UploadDir
	if err := os.MkdirAll(uploadPath, 0o755); err != nil {
		h.serverError(c, "Failed to prepare upload directory", err)
		return
	}

	// 3. Generate a safe unique filename (uuid + extension)
	newFilename := uuid.NewString() + ext
	if err := c.SaveUploadedFile(file, filepath.Join(uploadPath, newFilename)); err != nil {
		h.serverError(c, "Failed to save file", err)
		return
	}

	// 4. Return the public URL
	publicURL := fmt.Sprintf("%s/uploads/%s", strings.TrimRight(h.Config.Server.BaseURL, "/"), newFilename)
	c.JSON(http.StatusCreated, gin.H{"url": publicURL})
}
