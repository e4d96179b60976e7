package handlers

import (
	"net/http"
	"strconv"

	"github.com/AbdelrhmanX7/memorly-server/config"
	"github.com/AbdelrhmanX7/memorly-server/services"
	"github.com/AbdelrhmanX7/memorly-server/utils"

	"github.com/gin-gonic/gin"
)

// InitiateUpload opens a chunked upload session.
func InitiateUpload(c *gin.Context) {
	userID := c.GetUint("user_id")

	var req struct {
		OriginalName string `json:"originalName" binding:"required"`
		MimeType     string `json:"mimeType" binding:"required"`
		TotalSize    int64  `json:"totalSize" binding:"required"`
		TotalChunks  int    `json:"totalChunks" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, http.StatusBadRequest, services.CodeInvalidRequest, "invalid request: "+err.Error())
		return
	}

	out, err := getServices().Upload.InitiateUpload(c.Request.Context(), userID, services.InitiateUploadInput{
		OriginalName: req.OriginalName,
		MimeType:     req.MimeType,
		TotalSize:    req.TotalSize,
		TotalChunks:  req.TotalChunks,
	})
	if respondServiceError(c, err) {
		return
	}
	utils.Success(c, out)
}

// UploadChunk receives one part of a chunked upload.
func UploadChunk(c *gin.Context) {
	userID := c.GetUint("user_id")

	uploadID := c.PostForm("uploadId")
	if uploadID == "" {
		utils.Error(c, http.StatusBadRequest, services.CodeInvalidRequest, "uploadId is required")
		return
	}
	partNumber, err := strconv.Atoi(c.PostForm("partNumber"))
	if err != nil {
		utils.Error(c, http.StatusBadRequest, services.CodeInvalidRequest, "partNumber must be an integer")
		return
	}

	chunk, header, err := c.Request.FormFile("chunk")
	if err != nil {
		utils.Error(c, http.StatusBadRequest, services.CodeInvalidRequest, "chunk data is required")
		return
	}
	defer chunk.Close()

	if header.Size <= 0 || header.Size > config.AppConfig.Upload.ChunkSize {
		utils.Error(c, http.StatusBadRequest, services.CodeInvalidRequest, "chunk size out of bounds")
		return
	}

	out, err := getServices().Upload.UploadPart(c.Request.Context(), userID, uploadID, partNumber, chunk, header.Size)
	if respondServiceError(c, err) {
		return
	}
	utils.Success(c, out)
}

// CompleteUpload merges all received parts into the final object.
func CompleteUpload(c *gin.Context) {
	userID := c.GetUint("user_id")

	var req struct {
		UploadID string `json:"uploadId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, http.StatusBadRequest, services.CodeInvalidRequest, "invalid request: "+err.Error())
		return
	}

	out, err := getServices().Upload.CompleteUpload(c.Request.Context(), userID, req.UploadID)
	if respondServiceError(c, err) {
		return
	}
	utils.Success(c, out)
}

// AbortUpload cancels a session and releases store-side part storage.
func AbortUpload(c *gin.Context) {
	userID := c.GetUint("user_id")

	var req struct {
		UploadID string `json:"uploadId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, http.StatusBadRequest, services.CodeInvalidRequest, "invalid request: "+err.Error())
		return
	}

	err := getServices().Upload.AbortUpload(c.Request.Context(), userID, req.UploadID)
	if respondServiceError(c, err) {
		return
	}
	utils.Success(c, gin.H{})
}

// GetUploadStatus returns the session snapshot clients use to resume.
func GetUploadStatus(c *gin.Context) {
	userID := c.GetUint("user_id")
	uploadID := c.Param("upload_id")

	out, err := getServices().Upload.GetUploadStatus(c.Request.Context(), userID, uploadID)
	if respondServiceError(c, err) {
		return
	}
	utils.Success(c, out)
}
