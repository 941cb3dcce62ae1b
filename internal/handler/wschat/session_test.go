package wschat

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	cmodel "meridian/internal/domain/models/continuum"
	"meridian/internal/domain/models/llm"
	"meridian/internal/domain/models"
	orchestratorsvc "meridian/internal/domain/services/orchestrator"
)

// fakeVerifier stands in for the Supabase JWKS verifier without a network call.
type fakeVerifier struct {
	validToken string
	userID     string
}

func (v *fakeVerifier) VerifyToken(token string) (*models.SupabaseClaims, error) {
	if token != v.validToken {
		return nil, errors.New("invalid token")
	}
	claims := &models.SupabaseClaims{}
	claims.Subject = v.userID
	claims.Role = "authenticated"
	return claims, nil
}
func (v *fakeVerifier) Close() error { return nil }

type fakeRepo struct {
	loadErr   error
	committed bool
}

func (r *fakeRepo) Load(ctx context.Context, userID string) (*cmodel.Continuum, error) {
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	return &cmodel.Continuum{ID: "cont-1", UserID: userID}, nil
}

func (r *fakeRepo) Commit(ctx context.Context, cont *cmodel.Continuum, uow *cmodel.UnitOfWork) error {
	r.committed = true
	return nil
}

type fakeLock struct {
	acquireResult bool
	acquireErr    error
	released      bool
}

func (l *fakeLock) Acquire(ctx context.Context, userID, connectionID string) (bool, error) {
	return l.acquireResult, l.acquireErr
}
func (l *fakeLock) Release(ctx context.Context, userID string) error {
	l.released = true
	return nil
}

type fakeOrchestrator struct {
	response string
	err      error
}

func (o *fakeOrchestrator) ProcessMessage(
	ctx context.Context,
	cont *cmodel.Continuum,
	userContent []llm.ContentBlock,
	systemPrompt string,
	stream bool,
	callback orchestratorsvc.StreamCallback,
	uow *cmodel.UnitOfWork,
	triedLoadingAllTools bool,
) (string, orchestratorsvc.TurnMetadata, error) {
	if o.err != nil {
		return "", orchestratorsvc.TurnMetadata{}, o.err
	}
	if callback != nil {
		callback(orchestratorsvc.WireEvent{Type: "text", Content: "hi"})
	}
	return o.response, orchestratorsvc.TurnMetadata{ToolsUsed: []string{"web_search"}, TurnNumber: 1}, nil
}

func nethttpHandler(s *Server) http.HandlerFunc {
	return http.HandlerFunc(s.HandleUpgrade)
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}

func TestAuthSuccessAndMessage(t *testing.T) {
	verifier := &fakeVerifier{validToken: "good-token", userID: "user-1"}
	repo := &fakeRepo{}
	lock := &fakeLock{acquireResult: true}
	orch := &fakeOrchestrator{response: "hello there"}

	srv := NewServer(verifier, repo, lock, orch, "system prompt", nil)
	httpSrv := httptest.NewServer(nethttpHandler(srv))
	defer httpSrv.Close()

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http")
	conn := dial(t, wsURL)
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "auth", "token": "good-token"}); err != nil {
		t.Fatalf("write auth failed: %v", err)
	}

	var success authSuccessFrame
	if err := conn.ReadJSON(&success); err != nil {
		t.Fatalf("read auth_success failed: %v", err)
	}
	if success.Type != "auth_success" || success.UserID != "user-1" {
		t.Fatalf("unexpected auth_success frame: %+v", success)
	}

	if err := conn.WriteJSON(map[string]string{"type": "message", "content": "hi there"}); err != nil {
		t.Fatalf("write message failed: %v", err)
	}

	var text textFrame
	if err := conn.ReadJSON(&text); err != nil {
		t.Fatalf("read text failed: %v", err)
	}
	if text.Type != "text" || text.Content != "hi" {
		t.Fatalf("unexpected text frame: %+v", text)
	}

	var complete completeFrame
	if err := conn.ReadJSON(&complete); err != nil {
		t.Fatalf("read complete failed: %v", err)
	}
	if complete.Response != "hello there" || complete.ContinuumID != "cont-1" {
		t.Fatalf("unexpected complete frame: %+v", complete)
	}
	if !repo.committed {
		t.Fatal("expected commit to be called")
	}
}

func TestAuthInvalidToken(t *testing.T) {
	verifier := &fakeVerifier{validToken: "good-token", userID: "user-1"}
	repo := &fakeRepo{}
	lock := &fakeLock{acquireResult: true}
	orch := &fakeOrchestrator{}

	srv := NewServer(verifier, repo, lock, orch, "system prompt", nil)
	httpSrv := httptest.NewServer(nethttpHandler(srv))
	defer httpSrv.Close()

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http")
	conn := dial(t, wsURL)
	defer conn.Close()

	conn.WriteJSON(map[string]string{"type": "auth", "token": "wrong-token"})

	var errFrame errorFrame
	if err := conn.ReadJSON(&errFrame); err != nil {
		t.Fatalf("read error frame failed: %v", err)
	}
	if errFrame.Type != "error" {
		t.Fatalf("expected error frame, got %+v", errFrame)
	}
}

func TestLockHeldRejectsConnection(t *testing.T) {
	verifier := &fakeVerifier{validToken: "good-token", userID: "user-1"}
	repo := &fakeRepo{}
	lock := &fakeLock{acquireResult: false}
	orch := &fakeOrchestrator{}

	srv := NewServer(verifier, repo, lock, orch, "system prompt", nil)
	httpSrv := httptest.NewServer(nethttpHandler(srv))
	defer httpSrv.Close()

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http")
	conn := dial(t, wsURL)
	defer conn.Close()

	conn.WriteJSON(map[string]string{"type": "auth", "token": "good-token"})

	var errFrame errorFrame
	if err := conn.ReadJSON(&errFrame); err != nil {
		t.Fatalf("read error frame failed: %v", err)
	}
	if !strings.Contains(errFrame.Message, "already active") {
		t.Fatalf("expected lock-held error, got %+v", errFrame)
	}
}

func TestBuildContent(t *testing.T) {
	if _, err := buildContent(inboundFrame{}); err == nil {
		t.Fatal("expected error for empty frame")
	}
	if _, err := buildContent(inboundFrame{Image: "not-base64!!", ImageType: "image/png"}); err == nil {
		t.Fatal("expected error for invalid base64")
	}
	if _, err := buildContent(inboundFrame{Image: "aGVsbG8=", ImageType: "image/svg+xml"}); err == nil {
		t.Fatal("expected error for disallowed image type")
	}
	blocks, err := buildContent(inboundFrame{Content: "hello"})
	if err != nil || len(blocks) != 1 || blocks[0].Text != "hello" {
		t.Fatalf("unexpected result: %+v, %v", blocks, err)
	}
}
