// Package app wires shared HTTP routes for both local and Lambda execution.
package app

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// NewRouter builds the shared HTTP router for both local and Lambda execution.
func NewRouter() (*gin.Engine, error) {
	router := gin.Default()
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))

	router.GET("/health", Health)

	verifier, err := NewVerifierFromEnv()
	if err != nil && !AuthDisabled() {
		return nil, err
	}

	protected := router.Group("/")
	protected.Use(AuthMiddleware(verifier))
	protected.POST("/uploads", StartUpload)
	protected.GET("/uploads/:id", GetUploadStatus)
	protected.POST("/uploads/:id/abort", AbortUpload)
	protected.GET("/uploads/:id/results", GetUploadResults)
	protected.GET("/uploads/:id/batches", GetUploadBatches)
	protected.GET("/uploads/:id/batches/:batchid/request", GetBatchRequest)

	return router, nil
}
