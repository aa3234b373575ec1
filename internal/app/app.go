package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/pradum97/jsondeck-sub000/internal/app/httpapp"
	"github.com/pradum97/jsondeck-sub000/internal/config"
	httprouter "github.com/pradum97/jsondeck-sub000/internal/http"
	authhttp "github.com/pradum97/jsondeck-sub000/internal/http/auth"
	"github.com/pradum97/jsondeck-sub000/internal/lib/jwt"
	authservice "github.com/pradum97/jsondeck-sub000/internal/services/auth"
	"github.com/pradum97/jsondeck-sub000/internal/services/roles"
	"github.com/pradum97/jsondeck-sub000/internal/storage/mongodb"
	"github.com/pradum97/jsondeck-sub000/internal/storage/sqlite"
)

// Storage is the full persistence surface the service needs; both the
// MongoDB and the SQLite backend satisfy it.
type Storage interface {
	authservice.UserSaver
	authservice.UserProvider
	authservice.RefreshTokenProvider
	roles.SubscriptionProvider
}

type App struct {
	HTTPSrv *httpapp.App
}

func New(logger *slog.Logger, cfg *config.Config) *App {
	storage := newStorage(cfg)

	tokens := jwt.NewManager(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.Audience)

	authService := authservice.New(
		logger,
		storage,
		storage,
		storage,
		tokens,
		cfg.Auth.AccessTokenTTL,
		cfg.Auth.RefreshTokenTTL,
		cfg.Auth.RefreshPepper,
	)
	tierResolver := roles.New(logger, storage)

	authServer := authhttp.New(logger, authService, tierResolver, cfg.Auth.RefreshTokenTTL)
	router := httprouter.NewRouter(logger, tokens, authServer)

	httpApp := httpapp.New(
		logger,
		router,
		cfg.HTTPServer.Address,
		cfg.HTTPServer.Timeout,
		cfg.HTTPServer.IdleTimeout,
	)

	return &App{
		HTTPSrv: httpApp,
	}
}

func newStorage(cfg *config.Config) Storage {
	switch cfg.Storage {
	case "mongo":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		storage, err := mongodb.New(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			panic(err)
		}
		return storage
	case "sqlite":
		storage, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			panic(err)
		}
		return storage
	default:
		panic("unknown storage backend: " + cfg.Storage)
	}
}
