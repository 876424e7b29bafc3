package server

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// sanitizeBase normalizes a mount prefix to "" or "/seg[/seg...]".
func sanitizeBase(bp string) string {
	bp = strings.Trim(strings.TrimSpace(bp), "/")
	if bp == "" {
		return ""
	}
	return "/" + bp
}

// writeJSON renders v, indented when the request carries ?pretty.
func writeJSON(c *gin.Context, code int, v any) {
	if _, ok := c.GetQuery("pretty"); ok {
		c.IndentedJSON(code, v)
		return
	}
	c.JSON(code, v)
}
