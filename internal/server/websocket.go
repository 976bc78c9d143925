package server

import (
	"net/http"

	"github.com/JoshJarabek7/messenger-backend/internal/connection"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type WebSocketServer struct {
	logger   *zap.Logger
	upgrader *websocket.Upgrader
	manager  *connection.Manager
}

func NewWebSocketServer(
	logger *zap.Logger,
	upgrader *websocket.Upgrader,
	manager *connection.Manager,
) *WebSocketServer {
	return &WebSocketServer{
		logger,
		upgrader,
		manager,
	}
}

func (s *WebSocketServer) Register(router *mux.Router) {
	router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		sock, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		// Accept runs the handshake and spawns the connection's
		// loops; the hijacked socket outlives this handler.
		if _, err := s.manager.Accept(sock); err != nil {
			s.logger.Debug("connection rejected", zap.Error(err))
		}
	})
}
