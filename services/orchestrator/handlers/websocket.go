// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/datatypes"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second

	// wsReadLimit leaves room for JSON framing around a maximal query.
	wsReadLimit = 2 * datatypes.MaxQueryBytes
)

// ConnectionTracker counts open websocket connections.
type ConnectionTracker interface {
	ConnectionOpened()
	ConnectionClosed()
}

type nopTracker struct{}

func (nopTracker) ConnectionOpened() {}
func (nopTracker) ConnectionClosed() {}

// wsError is sent for a frame that could not be handled.
type wsError struct {
	Error string `json:"error"`
}

var upgrader = websocket.Upgrader{
	// The invitation code inside each frame is the credential, so the
	// origin is not checked.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 16 * 1024,
}

func sendJSON(ws *websocket.Conn, v any) error {
	_ = ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := ws.WriteJSON(v); err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
		return err
	}
	return nil
}

// HandleChatWebSocket serves GET /chat/mlflow/ws.
//
// # Description
//
// Each text frame is one ChatRequest and receives exactly one reply: a
// ChatResponse, or {"error": ...} when the frame is not a valid request.
// Frames are handled in order, so a connection is naturally serialized.
// The loop ends when the client closes or a write fails.
//
// # Inputs
//
//   - runner: runs the turns.
//   - conns: connection gauge; nil disables counting.
func HandleChatWebSocket(runner TurnRunner, conns ConnectionTracker) gin.HandlerFunc {
	if conns == nil {
		conns = nopTracker{}
	}
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()
		ws.SetReadLimit(wsReadLimit)

		conns.ConnectionOpened()
		defer conns.ConnectionClosed()
		slog.Info("Websocket client connected", "remote", c.ClientIP())

		for {
			msgType, payload, err := ws.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					slog.Warn("Websocket read failed", "error", err)
				} else {
					slog.Info("Websocket client disconnected")
				}
				return
			}
			if msgType != websocket.TextMessage {
				if sendJSON(ws, wsError{Error: "expected a text frame"}) != nil {
					return
				}
				continue
			}

			reply, err := handleFrame(c, runner, payload)
			if err != nil {
				reply = wsError{Error: err.Error()}
			}
			if sendJSON(ws, reply) != nil {
				return
			}
		}
	}
}

var errInvalidFrame = errors.New("invalid request body")

func handleFrame(c *gin.Context, runner TurnRunner, payload []byte) (any, error) {
	ctx, span := handlerTracer.Start(c.Request.Context(), "HandleChatWebSocket.frame")
	defer span.End()

	var req datatypes.ChatRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		span.RecordError(err)
		return nil, errInvalidFrame
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	out := runner.Handle(ctx, toTurnRequest(req))
	return datatypes.ChatResponse{AssistantResponse: out}, nil
}
