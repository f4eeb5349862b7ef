package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/pkg/ingest"
)

// statusFor maps an error kind onto an HTTP status.
func statusFor(err error) int {
	switch models.Kind(err) {
	case "validation":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "upstream":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	if models.IsCanceled(err) {
		// Nobody is listening any more.
		c.Abort()
		return
	}
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "kind", models.Kind(err), "error", err)
		msg = "Internal server error"
	}
	c.JSON(status, gin.H{"error": msg})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func (s *Server) listDocuments(c *gin.Context) {
	docs, err := s.deps.Records.ListDocuments(c.Request.Context(), userID(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

func (s *Server) uploadDocument(c *gin.Context) {
	// Leave room for the multipart envelope around the file itself.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxUploadBytes+1<<20)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			badRequest(c, "File size exceeds limit")
			return
		}
		badRequest(c, "No file uploaded")
		return
	}

	contentType := fh.Header.Get("Content-Type")
	if err := s.deps.Pipeline.Validate(contentType, fh.Size); err != nil {
		s.writeError(c, err)
		return
	}

	f, err := fh.Open()
	if err != nil {
		s.writeError(c, err)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		s.writeError(c, err)
		return
	}

	res, err := s.deps.Pipeline.Ingest(c.Request.Context(), ingest.Upload{
		UserID:      userID(c),
		Filename:    fh.Filename,
		ContentType: contentType,
		Data:        data,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) deleteDocument(c *gin.Context) {
	err := s.deps.Pipeline.DeleteDocument(c.Request.Context(), userID(c), c.Param("id"))
	switch {
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
	case err != nil:
		s.writeError(c, err)
	default:
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func (s *Server) listSessions(c *gin.Context) {
	sessions, err := s.deps.Records.ListSessions(c.Request.Context(), userID(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (s *Server) createSession(c *gin.Context) {
	session, err := s.deps.Records.CreateSession(c.Request.Context(), userID(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

func (s *Server) getSession(c *gin.Context) {
	session, err := s.deps.Records.GetSession(c.Request.Context(), userID(c), c.Param("id"))
	if errors.Is(err, models.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

func (s *Server) replaceObjects(c *gin.Context) {
	var req struct {
		EphemeralObjects json.RawMessage `json:"ephemeralObjects"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	var objects []json.RawMessage
	if err := json.Unmarshal(req.EphemeralObjects, &objects); err != nil || objects == nil {
		badRequest(c, "ephemeralObjects must be an array")
		return
	}

	session, err := s.deps.Records.ReplaceObjects(c.Request.Context(), userID(c), c.Param("id"), objects)
	if errors.Is(err, models.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

func (s *Server) deleteSession(c *gin.Context) {
	err := s.deps.Records.DeleteSession(c.Request.Context(), userID(c), c.Param("id"))
	if errors.Is(err, models.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) listMessages(c *gin.Context) {
	ctx := c.Request.Context()
	if _, err := s.deps.Records.GetSession(ctx, userID(c), c.Param("id")); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		s.writeError(c, err)
		return
	}

	messages, err := s.deps.Records.ListMessages(ctx, c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}
