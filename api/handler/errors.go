package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ddevcap/streamgate/catalog"
	"github.com/ddevcap/streamgate/mediapath"
)

// Sentinel errors for the request-level failure modes. Handlers log the
// underlying cause and translate these to a status at the boundary; error
// chains never reach response bodies.
var (
	ErrEmptySignature     = errors.New("missing sign parameter")
	ErrInvalidSignature   = errors.New("invalid encrypted signature")
	ErrExpiredStream      = errors.New("stream token expired")
	ErrInvalidMediaSource = errors.New("invalid media source")
	ErrInvalidURI         = errors.New("invalid uri")
	ErrEmptyUpstreamToken = errors.New("missing upstream token")
	ErrRangeRequired      = errors.New("range header required")
)

// statusFor maps a request failure to its HTTP status.
func statusFor(err error) int {
	var notFound *mediapath.NotFoundError
	switch {
	case errors.Is(err, ErrEmptySignature),
		errors.Is(err, ErrInvalidSignature),
		errors.Is(err, ErrExpiredStream),
		errors.Is(err, ErrInvalidMediaSource),
		errors.Is(err, ErrInvalidURI),
		errors.Is(err, ErrEmptyUpstreamToken),
		errors.Is(err, mediapath.ErrEmptyStrmFile),
		errors.Is(err, mediapath.ErrStrmFileTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, ErrRangeRequired):
		return http.StatusForbidden
	case errors.As(err, &notFound),
		errors.Is(err, catalog.ErrNoMatchingSource):
		return http.StatusNotFound
	case errors.Is(err, catalog.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs the failure and answers with its status. Client errors get
// a small JSON body; server errors stay opaque.
func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	slog.Error("request failed",
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"status", status,
		"error", err,
	)
	if status >= http.StatusInternalServerError {
		c.AbortWithStatus(status)
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
