// Package api serves a read-only JSON view of scrape runs, the catalog and the
// price ledger.
package api

import (
	"github.com/gin-gonic/gin"
)

type Config struct {
	PriceHandler *PriceHandler
}

func NewRouter(cfg *Config) *gin.Engine {
	router := gin.Default()

	router.GET("/healthz", cfg.PriceHandler.Health)

	api := router.Group("/v1/")
	registerPriceRoutes(api, cfg.PriceHandler)

	return router
}

func registerPriceRoutes(router *gin.RouterGroup, h *PriceHandler) {
	runs := router.Group("/runs")
	{
		runs.GET("", h.ListRuns)
		runs.GET("/:id", h.GetRun)
	}

	router.GET("/products/:id", h.GetProduct)
	router.GET("/listings/:id/history", h.GetHistory)
	router.GET("/drops", h.ListDrops)
}
