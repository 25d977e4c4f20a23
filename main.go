package main

import (
	"os"

	"calendar-sync/core/logger"
	"calendar-sync/core/server"

	_ "calendar-sync/docs" // Swagger docs
)

// @title Calendar Sync API
// @version 1.0
// @description Connects Google, Microsoft and CalDAV calendars to the planner and keeps busy time mirrored across them.

// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT Bearer token. Example: "Bearer {token}"

func main() {
	if err := server.Run(); err != nil {
		logger.Error("Main:Run:Error", "error", err)
		os.Exit(1)
	}
}
