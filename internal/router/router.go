package router

import (
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/Brownie44l1/garbage-api/internal/handlers"
	"github.com/Brownie44l1/garbage-api/internal/metrics"
	"github.com/Brownie44l1/garbage-api/internal/middleware"
)

type Options struct {
	// AllowOrigins is comma separated; "*" or empty allows all.
	AllowOrigins string
	// Metrics is optional; nil disables both collection and the endpoint.
	Metrics     *metrics.Metrics
	MetricsPath string
}

func NewRouter(h *handlers.Handler, opts Options) *gin.Engine {
	r := gin.New()
	r.Use(cors.New(corsConfig(opts.AllowOrigins)))
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery())
	r.Use(middleware.Log())
	if opts.Metrics != nil {
		r.Use(middleware.Metrics(opts.Metrics))
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(opts.Metrics.Handler()))
	}

	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/info", h.Info)
	r.POST("/predict", h.Predict)
	return r
}

func corsConfig(origins string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"*"},
	}
	var list []string
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			list = append(list, o)
		}
	}
	if len(list) == 0 || (len(list) == 1 && list[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = list
	}
	return cfg
}
