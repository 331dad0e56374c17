package fx

import (
	"github.com/admirer145/Chesslyze-sub001/internal/api"
	"github.com/admirer145/Chesslyze-sub001/internal/config"
	"github.com/admirer145/Chesslyze-sub001/internal/database"
	"github.com/admirer145/Chesslyze-sub001/internal/logger"
	"github.com/admirer145/Chesslyze-sub001/internal/publisher"
	"github.com/admirer145/Chesslyze-sub001/internal/repository"
	"github.com/admirer145/Chesslyze-sub001/internal/server"
	"github.com/admirer145/Chesslyze-sub001/internal/service"
	"github.com/rs/zerolog"

	"go.uber.org/fx"
)

// provideStores binds the concrete repositories to the storage interfaces
// the import service consumes.
func provideStores(games *repository.GameRepository, checkpoints *repository.CheckpointRepository) (service.GameStore, service.CheckpointStore) {
	return games, checkpoints
}

// provideEventPublisher translates an absent publisher (no AMQP URL
// configured) into a nil interface so the service's nil check holds.
func provideEventPublisher(cfg *config.Config, log zerolog.Logger) (service.EventPublisher, error) {
	p, err := publisher.New(cfg, log)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, nil
	}
	return p, nil
}

var Module = fx.Options(
	fx.Provide(logger.New),
	fx.Provide(config.Load),
	fx.Provide(database.New),
	// repos
	fx.Provide(repository.NewGameRepository),
	fx.Provide(repository.NewCheckpointRepository),
	fx.Provide(provideStores),
	// provider clients
	fx.Provide(api.NewLichessClient),
	fx.Provide(api.NewChessComClient),
	// events
	fx.Provide(provideEventPublisher),
	// svc
	fx.Provide(service.NewImportService),
	// server
	fx.Provide(server.NewHub),
	fx.Provide(server.NewImportManager),
	fx.Provide(server.New),
)
