package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/JoshJarabek7/messenger-backend/internal/auth"
	"github.com/JoshJarabek7/messenger-backend/internal/connection"
	"github.com/JoshJarabek7/messenger-backend/internal/handler"
	"github.com/JoshJarabek7/messenger-backend/internal/hub"
	"github.com/JoshJarabek7/messenger-backend/internal/metrics"
	"github.com/JoshJarabek7/messenger-backend/internal/persistence/mongodb"
	"github.com/JoshJarabek7/messenger-backend/internal/server"
	"github.com/Netflix/go-env"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

type App struct {
	logger   *zap.Logger
	settings Settings

	mongoClient       *mongo.Client
	persistenceEngine *mongodb.PersistenceEngine
	memberships       *mongodb.MembershipStore

	dispatcher      *hub.Dispatcher
	manager         *connection.Manager
	websocketServer *server.WebSocketServer
	restServer      *server.RESTServer
}

func NewApp(logger *zap.Logger, settings Settings, mongoClient *mongo.Client) *App {
	originChecker := server.NewOriginChecker(settings.AllowedOrigins)
	websocketUpgrader := &websocket.Upgrader{
		ReadBufferSize:    1024,
		WriteBufferSize:   1024,
		CheckOrigin:       originChecker.Check,
		EnableCompression: true,
	}

	authenticator := auth.NewAuthenticator(settings.JWTSecret, settings.APIKeys)
	memberships := mongodb.NewMembershipStore(mongoClient)
	persistenceEngine := mongodb.NewPersistenceEngine(mongoClient)

	coreMetrics := metrics.New(prometheus.DefaultRegisterer)
	registry := hub.NewRegistry(logger)
	dispatcher := hub.NewDispatcher(logger, registry, coreMetrics)

	manager := connection.NewManager(
		logger,
		registry,
		dispatcher,
		authenticator,
		memberships,
		coreMetrics,
		connection.Config{
			HandshakeTimeout: time.Duration(settings.HandshakeTimeoutSeconds) * time.Second,
			IdleTimeout:      time.Duration(settings.IdleTimeoutSeconds) * time.Second,
			QueueCapacity:    settings.QueueCapacity,
		},
	)

	publishHandler := handler.NewPublishHandler(persistenceEngine, memberships, dispatcher)
	historyHandler := handler.NewHistoryHandler(persistenceEngine, memberships)

	websocketServer := server.NewWebSocketServer(logger, websocketUpgrader, manager)
	restServer := server.NewRESTServer(
		logger,
		authenticator,
		publishHandler,
		historyHandler,
		memberships,
		func() bool {
			return manager.Accepting() && dispatcher.Accepting()
		},
	)

	return &App{
		logger:            logger,
		settings:          settings,
		mongoClient:       mongoClient,
		persistenceEngine: persistenceEngine,
		memberships:       memberships,

		dispatcher:      dispatcher,
		manager:         manager,
		websocketServer: websocketServer,
		restServer:      restServer,
	}
}

func (a *App) setup(ctx context.Context) error {
	setupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := a.persistenceEngine.Setup(setupCtx); err != nil {
		return err
	}

	return a.memberships.Setup(setupCtx)
}

func (a *App) run(ctx context.Context) {
	notifyCtx, notifyCtxCancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer notifyCtxCancel()

	go a.manager.Run(notifyCtx)

	address := fmt.Sprintf("0.0.0.0:%d", a.settings.Port)

	router := mux.NewRouter().
		PathPrefix(a.settings.BasePath).
		Subrouter()

	a.websocketServer.Register(router)
	a.restServer.Register(router)
	router.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:    address,
		Handler: router,
	}

	a.logger.Info("starting http server",
		zap.String("address", address))

	go func() {
		err := httpServer.ListenAndServe()

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("failed to start http server",
				zap.Error(err))
		}
	}()

	<-notifyCtx.Done()

	a.logger.Info("stopping")

	shutdownCtx, shutdownCtxCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCtxCancel()

	a.dispatcher.Stop()
	a.manager.Shutdown(shutdownCtx)

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown failed",
			zap.Error(err))
	}

	if err := a.mongoClient.Disconnect(shutdownCtx); err != nil {
		a.logger.Error("mongodb disconnect failed",
			zap.Error(err))
	}

	a.logger.Info("stopped")
}

func main() {
	ctx := context.Background()

	var settings Settings
	_, err := env.UnmarshalFromEnviron(&settings)
	if err != nil {
		panic(err)
	}

	logger, err := buildZapLogger(settings.LogEncoding)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	mongoClient, err := mongo.Connect(options.Client().ApplyURI(settings.MongoDBURI))
	if err != nil {
		logger.Fatal("failed to connect to mongodb", zap.Error(err))
	}

	app := NewApp(logger, settings, mongoClient)

	if err := app.setup(ctx); err != nil {
		logger.Fatal("failed to setup", zap.Error(err))
	}

	app.run(ctx)
}
