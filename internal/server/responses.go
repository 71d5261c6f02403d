package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/worldcup-tips/internal/apperr"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	messageSignInRequired = "You must be signed in."
	messageInvalidBody    = "Invalid request body."
	messageRateLimited    = "Too many requests. Please try again later."

	codeSessionRequired = "session.required"
	codeInvalidBody     = "request.invalid_body"
	codeRateLimited     = "request.rate_limited"
)

func errorBody(message, code string) gin.H {
	return gin.H{"ok": false, "error": message, "code": code}
}

func respondOK(c *gin.Context, status int, fields gin.H) {
	body := gin.H{"ok": true}
	for key, value := range fields {
		body[key] = value
	}
	c.JSON(status, body)
}

func (h *httpHandler) respondError(c *gin.Context, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("code", apperr.CodeOf(err)),
			zap.Error(err),
		)
	}
	c.JSON(status, errorBody(apperr.MessageOf(err), apperr.CodeOf(err)))
}

func respondInvalidBody(c *gin.Context) {
	c.JSON(http.StatusBadRequest, errorBody(messageInvalidBody, codeInvalidBody))
}

func statusForError(err error) int {
	kind := apperr.KindOf(err)
	switch {
	case errors.Is(kind, apperr.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(kind, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(kind, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(kind, apperr.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(kind, apperr.ErrInviteExpired), errors.Is(kind, apperr.ErrInviteExhausted):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}
