package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// apiResponse is the envelope of every ops endpoint. Code is 0 on success and
// the HTTP status otherwise.
type apiResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func Ok(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusOK, apiResponse{Code: 0, Message: "ok", Data: data, Meta: meta})
}

// Accepted acknowledges work that continues after the response.
func Accepted(c *gin.Context, meta map[string]any) {
	c.JSON(http.StatusAccepted, apiResponse{Code: 0, Message: "accepted", Meta: meta})
}

func Error(c *gin.Context, status int, message string, meta map[string]any) {
	c.JSON(status, apiResponse{Code: status, Message: message, Meta: meta})
}

func pageMeta(limit, offset, count int) map[string]any {
	return map[string]any{"limit": limit, "offset": offset, "count": count}
}
