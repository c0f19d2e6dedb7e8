package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/steadyops/steward/pkg/storage"
)

// maxUploadBytes bounds a single file upload.
const maxUploadBytes = 50 << 20

// uploadFileHandler handles PUT /api/v1/files. The file arrives as the
// "file" part of a multipart form.
func (s *Server) uploadFileHandler(c *echo.Context) error {
	src, header, err := c.Request().FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file form field is required")
	}
	defer src.Close()

	if header.Size > maxUploadBytes {
		return echo.NewHTTPError(http.StatusBadRequest, "file is too large")
	}
	data, err := io.ReadAll(io.LimitReader(src, maxUploadBytes+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read uploaded file")
	}
	if len(data) > maxUploadBytes {
		return echo.NewHTTPError(http.StatusBadRequest, "file is too large")
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	info, err := s.files.Upload(c.Request().Context(), data, storage.UploadInput{
		Filename:    header.Filename,
		ContentType: contentType,
		UserID:      currentUser(c).ID,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, info)
}

// downloadFileHandler handles GET /api/v1/files/:file_id. The route is
// public because two credentials are accepted: a bearer token, or the
// signature query pair issued for shared-session listings.
func (s *Server) downloadFileHandler(c *echo.Context) error {
	fileID := c.Param("file_id")
	if fileID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "file id is required")
	}

	authorized := false
	if token := bearerToken(c); token != "" {
		if _, err := s.auth.CurrentUser(c.Request().Context(), token); err == nil {
			authorized = true
		}
	}
	if !authorized {
		if err := s.tokens.VerifySignedURL(c.Request().URL.RequestURI()); err == nil {
			authorized = true
		}
	}
	if !authorized {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	data, info, err := s.files.Download(c.Request().Context(), fileID)
	if err != nil {
		return mapServiceError(err)
	}

	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := c.Response().Header()
	h.Set("Content-Type", contentType)
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", info.Filename))
	h.Set("Content-Length", strconv.Itoa(len(data)))
	c.Response().WriteHeader(http.StatusOK)
	_, err = c.Response().Write(data)
	return err
}

// deleteFileHandler handles DELETE /api/v1/files/:file_id.
func (s *Server) deleteFileHandler(c *echo.Context) error {
	fileID := c.Param("file_id")
	if fileID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "file id is required")
	}

	if err := s.files.Delete(c.Request().Context(), fileID); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &MessageResponse{Message: "file deleted"})
}
