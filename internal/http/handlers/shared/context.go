package shared

import (
	"strconv"
	"strings"

	"github.com/entrega-next/internal/http/response"

	"github.com/gin-gonic/gin"
)

// ParseIDParam 解析路径中的正整数 ID，失败时直接写入错误响应。
func ParseIDParam(c *gin.Context, name string) (uint, bool) {
	raw := strings.TrimSpace(c.Param(name))
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		RespondError(c, response.CodeBadRequest, "invalid "+name, nil)
		return 0, false
	}
	return uint(id), true
}
