package main

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/lkaplan/livecomp/internal/gateway"
	"github.com/lkaplan/livecomp/internal/livestate"
	"github.com/lkaplan/livecomp/internal/outbox"
	"github.com/lkaplan/livecomp/internal/schedule"
	"github.com/lkaplan/livecomp/internal/timer"
)

type Services struct {
	Live      *livestate.Service
	Schedule  *schedule.Service
	Completer *timer.AutoCompleter
	Manager   *gateway.ConnectionManager
	Handler   *gateway.WebSocketHandler
	API       *gateway.APIHandler
	Consumer  *gateway.EventConsumer
	Relay     *outbox.Relay
}

func setupServices(config *Config, pool *pgxpool.Pool, nc *nats.Conn) (*Services, error) {
	clock := clockwork.NewRealClock()

	// Live + schedule halves of the store
	liveRepo := livestate.NewPostgresRepository(pool)
	liveService := livestate.NewService(liveRepo, clock, config.MatchLength(), config.SessionLength())

	scheduleRepo := schedule.NewRepository(pool)
	scheduleService := schedule.NewService(scheduleRepo, clock)

	// Auto-completion: ends matches and sessions when their stage
	// schedules run out, unless an operator got there first.
	completer := timer.NewAutoCompleter(clock, liveService)
	liveService.SetCompletions(completer)

	// Outbox relay: pushes committed events to NATS
	subjectPrefix := getEnv("NATS_SUBJECT_PREFIX", "livecomp")
	outboxRepo := outbox.NewRepository(pool)
	publisher := outbox.NewNATSPublisher(nc, subjectPrefix)
	relay := outbox.NewRelay(pool, outboxRepo, publisher, outbox.DefaultRelayConfig())

	// Gateway: NATS consumer fanning out to websocket viewers
	manager := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	consumerConfig := gateway.DefaultConsumerConfig()
	consumerConfig.URL = nc.ConnectedUrl()
	consumerConfig.SubjectPrefix = subjectPrefix
	consumer, err := gateway.NewEventConsumer(manager, consumerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create event consumer: %w", err)
	}

	handler := gateway.NewWebSocketHandler(manager, scheduleService)
	api := gateway.NewAPIHandler(liveService, scheduleService, clock, config.MatchLength(), config.SessionLength())

	return &Services{
		Live:      liveService,
		Schedule:  scheduleService,
		Completer: completer,
		Manager:   manager,
		Handler:   handler,
		API:       api,
		Consumer:  consumer,
		Relay:     relay,
	}, nil
}

func setupNATS() (*nats.Conn, error) {
	url := getEnv("NATS_URL", nats.DefaultURL)
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	log.Info().Str("url", nc.ConnectedUrl()).Msg("connected to nats")
	return nc, nil
}
