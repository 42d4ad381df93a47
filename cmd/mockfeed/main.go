// Command mockfeed serves a local stand-in for the lost and found open data feed.
package main

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	port := getEnv("MOCK_FEED_PORT", "8000")
	total, err := strconv.Atoi(getEnv("MOCK_FEED_TOTAL", "250"))
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid MOCK_FEED_TOTAL")
	}
	serviceKey := os.Getenv("FEED_SERVICE_KEY")

	r := newRouter(total, serviceKey, time.Now)

	log.Info().Str("port", port).Int("total", total).Msg("Mock feed starting")
	log.Info().Msgf("Lost items: http://localhost:%s%s", port, getEnv("FEED_LOST_PATH", defaultLostPath))
	if err := http.ListenAndServe(fmt.Sprintf(":%s", port), r); err != nil {
		log.Fatal().Err(err).Msg("Mock feed failed")
	}
}

const (
	defaultLostPath  = "/LostGoodsInfoInqireService/getLostGoodsInfoAccToClAreaPd"
	defaultFoundPath = "/LosfundInfoInqireService/getLosfundInfoAccToClAreaPd"
)

func newRouter(total int, serviceKey string, today func() time.Time) *mux.Router {
	r := mux.NewRouter()
	r.Handle(getEnv("FEED_LOST_PATH", defaultLostPath), &mockFeed{total: total, serviceKey: serviceKey, kind: "lost", today: today}).Methods("GET")
	r.Handle(getEnv("FEED_FOUND_PATH", defaultFoundPath), &mockFeed{total: total, serviceKey: serviceKey, kind: "found", today: today}).Methods("GET")
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok"}`)
	}).Methods("GET")
	return r
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
