package status

import (
	"net/http"
	hpprof "net/http/pprof"
	"strings"

	"github.com/gin-gonic/gin"
)

// mountPprof exposes the runtime profiles under /debug/pprof/.
func mountPprof(r *gin.Engine) {
	h := func(c *gin.Context) {
		pprofHandler(strings.Trim(c.Param("name"), "/")).ServeHTTP(c.Writer, c.Request)
	}
	r.GET("/debug/pprof/*name", h)
	r.POST("/debug/pprof/*name", h)
}

func pprofHandler(name string) http.Handler {
	switch name {
	case "":
		return http.HandlerFunc(hpprof.Index)
	case "cmdline":
		return http.HandlerFunc(hpprof.Cmdline)
	case "profile":
		return http.HandlerFunc(hpprof.Profile)
	case "symbol":
		return http.HandlerFunc(hpprof.Symbol)
	case "trace":
		return http.HandlerFunc(hpprof.Trace)
	default:
		return hpprof.Handler(name)
	}
}
