// Package server exposes the HTTP API: login and message loading plus
// the aggregate query endpoints over the stored history.
package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/kataras/iris/v12"

	"github.com/edgard/groupstash/internal/apperrors"
	"github.com/edgard/groupstash/internal/database"
	"github.com/edgard/groupstash/internal/groupme"
	"github.com/edgard/groupstash/internal/ingest"
	"github.com/edgard/groupstash/internal/logger"
)

// RemoteClient is the remote API surface the server calls directly.
type RemoteClient interface {
	Me(ctx context.Context, token string) (*groupme.User, error)
	Groups(ctx context.Context, token string) ([]groupme.Group, error)
}

// Ingestor runs login registration and history loading.
type Ingestor interface {
	RegisterLogin(ctx context.Context, user *groupme.User, groups []groupme.Group) error
	LoadGroups(ctx context.Context, token string, ids []int64) ([]ingest.GroupResult, error)
}

// Deps carries the server's collaborators.
type Deps struct {
	Log    *slog.Logger
	Store  database.Store
	Client RemoteClient
	Ingest Ingestor
}

type handlers struct {
	log    *slog.Logger
	store  database.Store
	client RemoteClient
	ingest Ingestor
}

// New builds the iris application with all routes registered.
func New(deps Deps) *iris.Application {
	log := deps.Log
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	h := &handlers{
		log:    log.With("component", "server"),
		store:  deps.Store,
		client: deps.Client,
		ingest: deps.Ingest,
	}

	app := iris.New()
	app.UseRouter(logger.AccessLog(log))

	api := app.Party("/api")
	{
		api.Get("/login", h.login)
		api.Get("/loadmessages", h.loadMessages)
		api.Get("/getgroups", h.getGroups)
		api.Get("/getloadedgroups", h.getLoadedGroups)
		api.Get("/avgLikes", h.avgLikes)
		api.Get("/totalMessages", h.totalMessages)
		api.Get("/totalLikes", h.totalLikes)
		api.Get("/mostLiked", h.mostLiked)
		api.Get("/random", h.random)
		api.Get("/custom", h.custom)
	}

	return app
}

// fail logs the error and writes the coded error body with the status
// its code maps to.
func (h *handlers) fail(ctx iris.Context, err error) {
	code := apperrors.Code(err)
	h.log.Error("Request failed",
		"request_id", ctx.Values().GetString("request_id"),
		"path", ctx.Path(),
		"code", code,
		"error", err,
	)
	ctx.StopWithJSON(statusFor(code), iris.Map{
		"error": iris.Map{"code": code, "message": err.Error()},
	})
}

func statusFor(code string) int {
	switch code {
	case apperrors.CodeValidation:
		return http.StatusBadRequest
	case apperrors.CodeAuth:
		return http.StatusUnauthorized
	case apperrors.CodeRemote:
		return http.StatusBadGateway
	case apperrors.CodeDatabase:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
