package main

import (
	"log"

	"example/bulk-upload-api/app"
)

func main() {
	app.MustInitDB()
	app.MustInitSalesforce()
	router, err := app.NewRouter()
	if err != nil {
		log.Fatalf("failed to initialize router: %v", err)
	}
	router.Run("0.0.0.0:8080")
}
