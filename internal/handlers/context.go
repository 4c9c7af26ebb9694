package handlers

import (
	"context"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/casedesk/internal/middleware"
	"github.com/charlesng35/casedesk/internal/oracle"
	"github.com/charlesng35/casedesk/internal/permissions"
	apperrors "github.com/charlesng35/casedesk/pkg/errors"
	"github.com/charlesng35/casedesk/pkg/response"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// currentSession returns the oracle session or writes a 401.
func currentSession(c *gin.Context) (*oracle.Session, bool) {
	session, ok := middleware.CurrentSession(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return nil, false
	}
	return session, true
}

// scopeSubject returns the scope subject for the caller or writes a 401.
func scopeSubject(c *gin.Context) (permissions.Subject, bool) {
	subject, ok := middleware.ScopeSubject(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return permissions.Subject{}, false
	}
	return subject, true
}

const maxPerPage = 200

// pageParams reads page and per_page with the same bounds the services apply.
func pageParams(c *gin.Context) (int, int) {
	page := parseIntQuery(c, "page", 1)
	perPage := parseIntQuery(c, "per_page", 50)
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	return page, perPage
}

func parseBoolQuery(c *gin.Context, key string) *bool {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &value
}
