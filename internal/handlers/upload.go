// internal/handlers/upload.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/coop-registry/internal/services"
	"github.com/javajoker/coop-registry/internal/utils"
)

type UploadHandler struct {
	presigner services.Presigner
}

func NewUploadHandler(presigner services.Presigner) *UploadHandler {
	return &UploadHandler{presigner: presigner}
}

type presignRequest struct {
	Filename    string `json:"filename" validate:"required,max=255"`
	ContentType string `json:"content_type" validate:"required,max=100"`
	Size        int64  `json:"size" validate:"required,gt=0"`
	Category    string `json:"category,omitempty" validate:"omitempty,oneof=documents certificates general"`
}

// POST /uploads/presign
func (h *UploadHandler) Presign(c *gin.Context) {
	var req presignRequest
	if !bindJSON(c, &req) {
		return
	}
	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}
	if req.Category == "" {
		req.Category = "documents"
	}

	upload, err := h.presigner.PrepareUpload(req.Filename, req.Category, req.ContentType, req.Size)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, upload)
}
