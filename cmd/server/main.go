// cmd/server/main.go
package main

import (
	"log"
	"net/http"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/anirbans/bidball/internal/auth"
	"github.com/anirbans/bidball/internal/cache"
	"github.com/anirbans/bidball/internal/catalog"
	"github.com/anirbans/bidball/internal/database"
	"github.com/anirbans/bidball/internal/handlers"
	"github.com/anirbans/bidball/internal/middleware"
)

func main() {
	auth.Init()

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	srv := handlers.NewAuctionServer()

	if os.Getenv("PG_HOST") != "" {
		database.ConnectDB()
		srv.Records = &database.RoomStore{Pool: database.DB}
		srv.Sales = &database.SaleRecorder{Pool: database.DB}
	} else {
		logger.Warn("PG_HOST not set; running without persistence (single-process rooms only)")
	}

	if err := cache.ConnectRedis(); err != nil {
		logger.Warnf("redis unavailable, push sync and cross-process intents disabled: %v", err)
	}

	srv.Catalog = buildCatalog(logger)

	mux := http.NewServeMux()

	mux.HandleFunc("/guest", handlers.GuestHandler)

	mux.Handle("/rooms/create", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.CreateRoomHandler(srv),
	)))
	mux.Handle("/rooms/list", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.ListRoomsHandler(srv),
	)))
	mux.Handle("/rooms/ws/", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.RoomWSHandler(logger, srv),
	)))
	mux.Handle("/rooms/", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.GetRoomHandler(srv),
	)))

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	logger.Infof("Running on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}

// buildCatalog chains the item sources: Postgres players table, then a
// bundled JSON file, then nothing (the server falls back to a synthetic set
// at auction start).
func buildCatalog(logger *logrus.Logger) catalog.Provider {
	var providers []catalog.Provider
	if database.DB != nil {
		providers = append(providers, &catalog.PostgresProvider{Pool: database.DB})
	}
	file := os.Getenv("PLAYER_DATA_FILE")
	if file == "" {
		file = "playerData.json"
	}
	providers = append(providers, &catalog.FileProvider{Path: file})
	logger.Infof("catalog: %d providers chained, file source %s", len(providers), file)
	return catalog.Chain(providers)
}
