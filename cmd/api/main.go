package main

import (
	"context"
	"log"
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.temporal.io/sdk/client"

	"github.com/yourorg/bird-survey/internal/api"
	"github.com/yourorg/bird-survey/internal/logging"
	"github.com/yourorg/bird-survey/internal/storage"
)

func main() {
	zl := logging.New(getEnv("LOG_LEVEL", "info"))
	defer zl.Sync()

	bucket := getEnv("SURVEY_BUCKET", "bird-survey")
	region := getEnv("AWS_REGION", "us-west-2")
	taskQueue := getEnv("TEMPORAL_TASK_QUEUE", "bird-survey")

	store, err := storage.NewS3(context.Background(), region)
	if err != nil {
		log.Fatalf("Failed to initialize object store: %v", err)
	}

	temporalClient, err := client.Dial(client.Options{
		HostPort:  getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
		Namespace: getEnv("TEMPORAL_NAMESPACE", "default"),
	})
	if err != nil {
		log.Fatalf("Failed to connect to Temporal: %v", err)
	}
	defer temporalClient.Close()

	r := gin.Default()
	// Uploads can be whole archives; spool anything larger to disk.
	r.MaxMultipartMemory = 32 << 20

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	apiV1 := r.Group("/api/v1")
	{
		handler := api.NewSurveyHandler(store, temporalClient, bucket, taskQueue, zl)
		apiV1.POST("/uploads", handler.StartSurvey)
		apiV1.GET("/runs/:id", handler.GetSurveyStatus)
	}

	port := getEnv("PORT", "8080")
	log.Printf("Server starting on :%s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
