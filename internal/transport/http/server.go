package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Comcenn/jamgenguessr/internal/config"
)

// NewServer builds the HTTP server with the game routes.
func NewServer(games Games, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewHandler(games, cfg, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewHandler mounts the socket routes on a plain mux and hands every other
// request to the gin router. Sockets stay off gin because its writer refuses
// to hijack a connection whose headers were flushed by the upgrade.
func NewHandler(games Games, cfg config.Config, logger *zerolog.Logger) stdhttp.Handler {
	mux := stdhttp.NewServeMux()
	mux.Handle(joinPrefix, NewWSHandler(games, cfg, logger))
	mux.Handle("/", NewRouter(games, cfg, logger))
	return mux
}

// NewRouter registers the plain HTTP routes on a gin engine.
func NewRouter(games Games, cfg config.Config, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	api := NewAPIHandlers(games, cfg.FrontendURL, logger)

	router.GET("/health", healthHandler)
	router.GET("/game/new", api.NewGame)

	router.GET("/api/games", api.ListGames)
	router.GET("/api/games/:gameId", api.GetGame)

	return router
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
