package wschat

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	cmodel "meridian/internal/domain/models/continuum"
	"meridian/internal/domain/models/llm"
	orchestratorsvc "meridian/internal/domain/services/orchestrator"
)

const (
	authTimeout   = 10 * time.Second
	maxImageBytes = 5 << 20 // 5 MB decoded
)

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// session drives one websocket connection through the state machine in
// §4.11: Open -> Awaiting-Auth -> Authenticating -> Authenticated, and
// Authenticated <-> Processing for each inbound message.
type session struct {
	server       *Server
	conn         *websocket.Conn
	connectionID string
	logger       *slog.Logger

	writeMu sync.Mutex

	userID    string
	continuum *cmodel.Continuum
}

func newSession(s *Server, conn *websocket.Conn) *session {
	id := uuid.New().String()
	return &session{
		server:       s,
		conn:         conn,
		connectionID: id,
		logger:       s.logger.With("connection_id", id),
	}
}

func (sess *session) writeJSON(v interface{}) {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	if err := sess.conn.WriteJSON(v); err != nil {
		sess.logger.Debug("write failed", "error", err)
	}
}

// run executes the full lifecycle of a connection: authenticate, then loop
// reading frames until the client disconnects or the context is cancelled.
func (sess *session) run(ctx context.Context) {
	defer sess.conn.Close()

	if !sess.authenticate(ctx) {
		return
	}
	defer func() {
		if err := sess.server.lock.Release(context.Background(), sess.userID); err != nil {
			sess.logger.Warn("release user lock failed", "error", err)
		}
	}()

	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			sess.logger.Debug("connection closed", "error", err)
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			sess.writeJSON(newErrorFrame("malformed frame"))
			continue
		}

		switch frame.Type {
		case "ping":
			sess.writeJSON(pongFrame{Type: "pong"})
		case "message":
			sess.handleMessage(ctx, frame)
		default:
			sess.writeJSON(newErrorFrame("unrecognized frame type: " + frame.Type))
		}
	}
}

// authenticate handles Open -> Awaiting-Auth -> Authenticating ->
// Authenticated, including the 10s auth timeout and per-user lock
// acquisition. Returns false if the connection should be closed.
func (sess *session) authenticate(ctx context.Context) bool {
	sess.conn.SetReadDeadline(time.Now().Add(authTimeout))
	_, data, err := sess.conn.ReadMessage()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			sess.writeJSON(newErrorFrame("Authentication timeout"))
		}
		return false
	}
	sess.conn.SetReadDeadline(time.Time{})

	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Type != "auth" {
		sess.writeJSON(newErrorFrame("first frame must be {type: auth, token}"))
		return false
	}

	claims, err := sess.server.verifier.VerifyToken(frame.Token)
	if err != nil {
		sess.writeJSON(newErrorFrame("invalid or expired token"))
		return false
	}
	userID := claims.GetUserID()

	acquired, err := sess.server.lock.Acquire(ctx, userID, sess.connectionID)
	if err != nil {
		sess.writeJSON(newErrorFrame("could not acquire session lock"))
		return false
	}
	if !acquired {
		sess.writeJSON(newErrorFrame("another session is already active for this user; it will be released automatically within 60s"))
		return false
	}

	cont, err := sess.server.continuums.Load(ctx, userID)
	if err != nil {
		sess.logger.Error("continuum load failed", "user_id", userID, "error", err)
		sess.writeJSON(newErrorFrame("could not load conversation state"))
		_ = sess.server.lock.Release(ctx, userID)
		return false
	}

	sess.userID = userID
	sess.continuum = cont
	sess.writeJSON(authSuccessFrame{Type: "auth_success", UserID: userID})
	return true
}

// handleMessage drives Authenticated -> Processing -> Authenticated for one
// client message: validate, invoke the orchestrator (forwarding its events
// live), commit the unit of work, and reply with the completion frame.
func (sess *session) handleMessage(ctx context.Context, frame inboundFrame) {
	content, err := buildContent(frame)
	if err != nil {
		sess.writeJSON(newErrorFrame(err.Error()))
		return
	}

	uow := cmodel.NewUnitOfWork(sess.continuum.ID)
	callback := func(event orchestratorsvc.WireEvent) {
		sess.forward(event)
	}

	response, metadata, err := sess.server.orchestrator.ProcessMessage(
		ctx, sess.continuum, content, sess.server.systemPrompt, true, callback, uow, false,
	)
	if err != nil {
		sess.logger.Warn("turn failed", "user_id", sess.userID, "error", err)
		sess.writeJSON(newErrorFrame(friendlyTurnError(err)))
		return
	}

	if err := sess.server.continuums.Commit(ctx, sess.continuum, uow); err != nil {
		sess.logger.Error("commit failed", "user_id", sess.userID, "continuum_id", sess.continuum.ID, "error", err)
		sess.writeJSON(newErrorFrame("your message was processed but could not be saved"))
		return
	}

	sess.writeJSON(completeFrame{
		Type:        "complete",
		ContinuumID: sess.continuum.ID,
		Response:    response,
		Metadata: completeMetadata{
			ToolsUsed:        metadata.ToolsUsed,
			ProcessingTimeMS: metadata.ProcessingTimeMS,
		},
	})
}

// forward translates one orchestrator WireEvent into its wire-protocol frame.
func (sess *session) forward(event orchestratorsvc.WireEvent) {
	switch event.Type {
	case "text":
		sess.writeJSON(textFrame{Type: "text", Content: event.Content})
	case "thinking":
		sess.writeJSON(thinkingFrame{Type: "thinking", Content: event.Content})
	case "tool":
		if event.Tool == nil {
			return
		}
		sess.writeJSON(toolFrame{Type: "tool", Event: event.Tool.Event, Name: event.Tool.Name})
	case "error":
		sess.writeJSON(newErrorFrame(event.Content))
	}
}

// buildContent validates the inbound message frame and assembles the
// ContentBlock list the orchestrator expects (§4.11 image validation).
func buildContent(frame inboundFrame) ([]llm.ContentBlock, error) {
	if frame.Content == "" && frame.Image == "" {
		return nil, errors.New("message must include content or an image")
	}

	var blocks []llm.ContentBlock
	if frame.Content != "" {
		blocks = append(blocks, llm.Text(frame.Content))
	}

	if frame.Image != "" {
		if !allowedImageTypes[frame.ImageType] {
			return nil, errors.New("image_type must be one of image/jpeg, image/png, image/gif, image/webp")
		}
		decoded, err := base64.StdEncoding.DecodeString(frame.Image)
		if err != nil {
			return nil, errors.New("image is not valid base64")
		}
		if len(decoded) > maxImageBytes {
			return nil, errors.New("image exceeds the 5 MB size limit")
		}
		blocks = append(blocks, llm.ContentBlock{
			BlockType: llm.BlockTypeImage,
			ImageData: frame.Image,
			MIMEType:  frame.ImageType,
		})
	}

	return blocks, nil
}
