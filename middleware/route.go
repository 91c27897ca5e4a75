package middleware

import (
	midsec "MinerWs/middleware/security"

	"github.com/gin-gonic/gin"
)

// 配置选项
type RouteOpt struct {
	IsAuth     bool
	AdminToken string
}

// GET 封装：IsAuth 时挂管理令牌校验
func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	if opt.IsAuth {
		r.GET(path,
			midsec.Middleware(midsec.DefaultOptions(opt.AdminToken)),
			handler,
		)
	} else {
		r.GET(path, handler)
	}
}
