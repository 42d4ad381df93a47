// Command trigger asks a running ingestion service to collect outside its schedule.
//
//	trigger          collect every kind
//	trigger lost     collect lost items only
package main

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hacknation/odnalezione-zguby/findit-ingest/internal/config"
	"github.com/hacknation/odnalezione-zguby/findit-ingest/internal/models"
	"github.com/hacknation/odnalezione-zguby/findit-ingest/internal/services"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg := config.Load()
	if cfg.RabbitMQ.URL == "" {
		log.Fatal().Msg("RABBITMQ_URL is required")
	}

	event, err := requestFromArgs(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid arguments")
	}

	publisher, err := services.NewRabbitMQPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to RabbitMQ")
	}
	defer publisher.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := publisher.PublishCollectRequested(ctx, event); err != nil {
		log.Fatal().Err(err).Msg("Failed to publish collect request")
	}

	kind := string(event.Kind)
	if kind == "" {
		kind = "all"
	}
	log.Info().Str("kind", kind).Str("requested_by", event.RequestedBy).Msg("Collect request sent")
}

// requestFromArgs builds the event from an optional kind argument
func requestFromArgs(args []string) (*models.CollectRequestedEvent, error) {
	event := &models.CollectRequestedEvent{RequestedBy: requester()}
	if len(args) == 0 || args[0] == "all" {
		return event, nil
	}
	kind, err := models.ParseKind(args[0])
	if err != nil {
		return nil, err
	}
	event.Kind = kind
	return event, nil
}

func requester() string {
	if user := os.Getenv("USER"); user != "" {
		return "trigger:" + user
	}
	return "trigger"
}
