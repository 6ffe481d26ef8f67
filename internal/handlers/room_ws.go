// internal/handlers/room_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/anirbans/bidball/internal/cache"
	"github.com/anirbans/bidball/internal/database"
	"github.com/anirbans/bidball/internal/middleware"
	"github.com/anirbans/bidball/internal/room"
)

// RoomWSHandler is the single websocket surface for a room: lobby actions
// (team choice, ready, start) and auction intents (bid, skip) all travel on
// it, and auction events stream back out.
func RoomWSHandler(logger *logrus.Logger, as *AuctionServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		remoteAddr := r.RemoteAddr
		code := roomCodeFromPath(r.URL.Path, "/rooms/ws/")
		if code == "" {
			http.Error(w, "missing room code", http.StatusBadRequest)
			return
		}

		// Guest identity is resolved before the websocket upgrade so the
		// cookie can still be set on the HTTP response.
		userID, username, err := EnsureGuest(w, r)
		if err != nil {
			logger.Warnf("Guest auth failed for room %s: %v", code, err)
			http.Error(w, "authentication failed", http.StatusForbidden)
			return
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"auction"},
			OriginPatterns: []string{"*"}, // Adjust in production
		})
		if err != nil {
			logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != "auction" {
			c.Close(BadSubprotocolError, "client must speak the auction subprotocol")
			return
		}

		rm, err := as.ResolveRoom(r.Context(), code)
		if err != nil {
			if errors.Is(err, database.ErrRoomNotFound) {
				c.Close(InvalidRoomCodeError, "room does not exist")
			} else {
				c.Close(websocket.StatusInternalError, "room lookup failed")
			}
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		conn := &room.RoomConnection{
			UserID:   userID,
			Username: username,
			Cancel:   cancel,
			OutChan:  make(chan map[string]interface{}, 16),
		}

		if err := rm.AddConnection(userID, username, conn); err != nil {
			logger.Warnf("failed AddConnection: %v", err)
			c.Close(websocket.StatusPolicyViolation, fmt.Sprintf("AddConnection error: %v", err))
			cancel()
			return
		}

		middleware.LogWebSocketConnect(logger, remoteAddr, code)

		if rm.Remote {
			// The host's roster is authoritative; announce the join there so
			// later claims and bids from this user authorize.
			relayIntent(ctx, rm, conn, cache.Intent{UserID: userID, Username: username, Action: cache.IntentJoin}, logger)
		}

		go writePump(ctx, c, conn, logger)
		readPump(ctx, c, as, rm, conn, logger)

		middleware.LogWebSocketDisconnect(logger, remoteAddr, code, nil)
		logger.Infof("User %v readPump exited for room %v. Initiating cleanup.", userID, code)
		rm.RemoveUser(userID)
		if rm.Remote {
			relayIntent(context.Background(), rm, nil, cache.Intent{UserID: userID, Action: cache.IntentLeave}, logger)
		}
	}
}

// readPump handles incoming messages from the room websocket until the
// connection closes.
func readPump(ctx context.Context, c *websocket.Conn, as *AuctionServer, rm *room.Room, conn *room.RoomConnection, logger *logrus.Logger) {
	logger.Infof("Room %s: Starting read pump for user %v", rm.Code, conn.UserID)
	defer logger.Infof("Room %s: Exiting read pump for user %v", rm.Code, conn.UserID)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		typ, msg, err := c.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				logger.Infof("Room %s: WebSocket closed normally for user %v.", rm.Code, conn.UserID)
			} else if !strings.Contains(err.Error(), "context canceled") {
				logger.Warnf("Room %s: Read error for user %v: %v (CloseStatus: %d)", rm.Code, conn.UserID, err, closeStatus)
			}
			return
		}

		if typ != websocket.MessageText {
			logger.Warnf("Room %s: Received non-text message type %d from user %v. Ignoring.", rm.Code, typ, conn.UserID)
			continue
		}

		var packet map[string]interface{}
		if err := json.Unmarshal(msg, &packet); err != nil {
			logger.Warnf("Room %s: Invalid json from user %v: %v", rm.Code, conn.UserID, err)
			conn.WriteError("Invalid JSON format")
			continue
		}

		handleRoomMessage(ctx, packet, as, rm, conn, logger)
	}
}

// handleRoomMessage interprets the "type" field. Room methods manage their
// own locking; nothing here holds the room lock.
func handleRoomMessage(ctx context.Context, packet map[string]interface{}, as *AuctionServer, rm *room.Room, conn *room.RoomConnection, logger *logrus.Logger) {
	action, _ := packet["type"].(string)

	switch action {
	case "choose_team":
		teamID, _ := packet["team_id"].(string)
		if teamID == "" {
			conn.WriteError("choose_team requires team_id")
			return
		}
		if rm.Remote {
			relayIntent(ctx, rm, conn, cache.Intent{UserID: conn.UserID, TeamID: teamID, Action: cache.IntentClaimTeam}, logger)
			return
		}
		if err := rm.ChooseTeam(conn.UserID, teamID); err != nil {
			conn.WriteError(err.Error())
		}
	case "ready":
		if rm.Remote {
			relayIntent(ctx, rm, conn, cache.Intent{UserID: conn.UserID, Action: cache.IntentReady}, logger)
			return
		}
		if err := rm.MarkReady(conn.UserID, true); err != nil {
			conn.WriteError(err.Error())
		}
	case "unready":
		if rm.Remote {
			relayIntent(ctx, rm, conn, cache.Intent{UserID: conn.UserID, Action: cache.IntentUnready}, logger)
			return
		}
		if err := rm.MarkReady(conn.UserID, false); err != nil {
			conn.WriteError(err.Error())
		}
	case "start_auction":
		if rm.Remote {
			conn.WriteError("only the hosting process can start the auction")
			return
		}
		if err := as.StartAuction(ctx, rm, conn.UserID); err != nil {
			conn.WriteError(err.Error())
		}
	case "bid":
		submitIntent(ctx, rm, conn, cache.IntentBid, logger)
	case "skip":
		submitIntent(ctx, rm, conn, cache.IntentSkip, logger)
	case "leave_room":
		rm.RemoveUser(conn.UserID)
		if rm.Remote {
			relayIntent(ctx, rm, nil, cache.Intent{UserID: conn.UserID, Action: cache.IntentLeave}, logger)
		}
	default:
		logger.Warnf("Room %s: Unknown action '%s' from user %v", rm.Code, action, conn.UserID)
		conn.WriteError(fmt.Sprintf("Unknown action type: %s", action))
	}
}

// submitIntent routes a bid/skip from this connection to the authoritative
// session: committed directly when this process hosts it, published on the
// intent channel otherwise. The engine treats invalid intents as silent
// no-ops, so no error travels back either way.
func submitIntent(ctx context.Context, rm *room.Room, conn *room.RoomConnection, intentAction string, logger *logrus.Logger) {
	teamID := rm.TeamOf(conn.UserID)
	if teamID == "" {
		conn.WriteError("you do not control a team")
		return
	}

	rm.Mu.Lock()
	sess := rm.Session
	rm.Mu.Unlock()

	if sess != nil && !sess.IsReplica() {
		switch intentAction {
		case cache.IntentBid:
			sess.PlaceBid(teamID)
		case cache.IntentSkip:
			sess.Skip(teamID)
		}
		return
	}

	relayIntent(ctx, rm, conn, cache.Intent{
		TeamID: teamID,
		UserID: conn.UserID,
		Action: intentAction,
	}, logger)
}

// relayIntent forwards a room action to the hosting process over the intent
// channel. Replica rooms never mutate the shared roster or engine locally;
// the host commits the change and its next snapshot echoes it back here.
func relayIntent(ctx context.Context, rm *room.Room, conn *room.RoomConnection, intent cache.Intent, logger *logrus.Logger) {
	if cache.Rdb == nil {
		if conn != nil {
			conn.WriteError("auction host unreachable")
		}
		return
	}
	intent.RoomCode = rm.Code
	if err := cache.PublishIntent(ctx, intent); err != nil {
		logger.Warnf("Room %s: failed to publish %s intent for user %v: %v", rm.Code, intent.Action, intent.UserID, err)
		if conn != nil {
			conn.WriteError("failed to reach the auction host")
		}
	}
}

// writePump drains the connection's OutChan onto the websocket, pinging
// periodically to detect dead peers.
func writePump(ctx context.Context, c *websocket.Conn, conn *room.RoomConnection, logger *logrus.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	defer func() {
		_ = c.Close(websocket.StatusGoingAway, "Write pump stopping")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-conn.OutChan:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				logger.Warnf("Room: Failed to marshal outgoing msg for user %v: %v", conn.UserID, err)
				continue
			}

			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.Warnf("Room: Failed to write to websocket for user %v: %v", conn.UserID, err)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Warnf("Room: Failed to send ping to user %v: %v. Assuming disconnect.", conn.UserID, err)
				return
			}
		}
	}
}
