package handler

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"meridian/internal/domain"
	model "meridian/internal/domain/models/domainknowledge"
)

type fakeBlockStore struct {
	blocks     []model.Block
	created    model.Block
	enabled    string
	disabled   string
	listErr    error
	createErr  error
	enableErr  error
	disableErr error
}

func (f *fakeBlockStore) List(ctx context.Context, userID string) ([]model.Block, error) {
	return f.blocks, f.listErr
}

func (f *fakeBlockStore) Create(ctx context.Context, b model.Block) (model.Block, error) {
	if f.createErr != nil {
		return model.Block{}, f.createErr
	}
	f.created = b
	return b, nil
}

func (f *fakeBlockStore) Enable(ctx context.Context, userID, label string) error {
	f.enabled = label
	return f.enableErr
}

func (f *fakeBlockStore) Disable(ctx context.Context, userID, label string) error {
	f.disabled = label
	return f.disableErr
}

func newTestApp(store domainBlockStore, userID string) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if userID != "" {
			c.Locals("userID", userID)
		}
		return c.Next()
	})
	app.Get("/domain-blocks", ListDomainBlocks(store))
	app.Post("/domain-blocks", CreateDomainBlock(store))
	app.Post("/domain-blocks/:label/enable", EnableDomainBlock(store))
	app.Post("/domain-blocks/:label/disable", DisableDomainBlock(store))
	return app
}

func TestListDomainBlocks(t *testing.T) {
	store := &fakeBlockStore{blocks: []model.Block{{ID: "1", Label: "billing"}}}
	app := newTestApp(store, "user-1")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/domain-blocks", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestListDomainBlocks_Unauthorized(t *testing.T) {
	store := &fakeBlockStore{}
	app := newTestApp(store, "")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/domain-blocks", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestCreateDomainBlock(t *testing.T) {
	store := &fakeBlockStore{}
	app := newTestApp(store, "user-1")

	body := bytes.NewBufferString(`{"label":"billing","description":"billing facts","agent_ref":"billing-agent"}`)
	req := httptest.NewRequest(http.MethodPost, "/domain-blocks", body)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if store.created.Label != "billing" || store.created.UserID != "user-1" {
		t.Fatalf("unexpected created block: %+v", store.created)
	}
}

func TestCreateDomainBlock_MissingLabel(t *testing.T) {
	store := &fakeBlockStore{}
	app := newTestApp(store, "user-1")

	body := bytes.NewBufferString(`{"agent_ref":"billing-agent"}`)
	req := httptest.NewRequest(http.MethodPost, "/domain-blocks", body)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCreateDomainBlock_ConflictMapsTo409(t *testing.T) {
	store := &fakeBlockStore{createErr: domain.ErrConflict}
	app := newTestApp(store, "user-1")

	body := bytes.NewBufferString(`{"label":"billing","agent_ref":"billing-agent"}`)
	req := httptest.NewRequest(http.MethodPost, "/domain-blocks", body)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestEnableDomainBlock(t *testing.T) {
	store := &fakeBlockStore{}
	app := newTestApp(store, "user-1")

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/domain-blocks/billing/enable", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if store.enabled != "billing" {
		t.Fatalf("expected billing enabled, got %q", store.enabled)
	}
}

func TestEnableDomainBlock_UnwrappedValidationTextMapsTo500(t *testing.T) {
	store := &fakeBlockStore{enableErr: errors.New("wrapped: " + domain.ErrValidation.Error())}
	app := newTestApp(store, "user-1")

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/domain-blocks/billing/enable", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	// not wrapped with %w so errors.Is won't match; exercises the default 500 path
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
}

func TestDisableDomainBlock(t *testing.T) {
	store := &fakeBlockStore{}
	app := newTestApp(store, "user-1")

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/domain-blocks/billing/disable", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if store.disabled != "billing" {
		t.Fatalf("expected billing disabled, got %q", store.disabled)
	}
}
