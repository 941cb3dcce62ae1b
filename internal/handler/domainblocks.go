// Package handler holds the Fiber REST surface: the user-facing CRUD
// endpoints that sit alongside the websocket chat transport (C11).
package handler

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"meridian/internal/domain"
	model "meridian/internal/domain/models/domainknowledge"
)

// domainBlockStore is the narrow slice of domainknowledge.Service the
// handler depends on, so it can be tested against a fake without pulling in
// the Postgres-backed store or the cache.
type domainBlockStore interface {
	List(ctx context.Context, userID string) ([]model.Block, error)
	Create(ctx context.Context, b model.Block) (model.Block, error)
	Enable(ctx context.Context, userID, label string) error
	Disable(ctx context.Context, userID, label string) error
}

type createBlockRequest struct {
	Label       string `json:"label"`
	Description string `json:"description"`
	AgentRef    string `json:"agent_ref"`
}

// ListDomainBlocks returns every domain-knowledge block the caller owns.
func ListDomainBlocks(store domainBlockStore) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, ok := c.Locals("userID").(string)
		if !ok || userID == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing user id")
		}

		blocks, err := store.List(c.Context(), userID)
		if err != nil {
			return mapStoreError(err)
		}
		return c.JSON(fiber.Map{"blocks": blocks})
	}
}

// CreateDomainBlock registers a new (disabled) domain-knowledge block.
func CreateDomainBlock(store domainBlockStore) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, ok := c.Locals("userID").(string)
		if !ok || userID == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing user id")
		}

		var req createBlockRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if req.Label == "" {
			return fiber.NewError(fiber.StatusBadRequest, "label is required")
		}
		if req.AgentRef == "" {
			return fiber.NewError(fiber.StatusBadRequest, "agent_ref is required")
		}

		created, err := store.Create(c.Context(), model.Block{
			UserID:      userID,
			Label:       req.Label,
			Description: req.Description,
			AgentRef:    req.AgentRef,
		})
		if err != nil {
			return mapStoreError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(created)
	}
}

// EnableDomainBlock enables the named block. If the user already has a
// different block enabled, the store rejects the request with
// domain.ErrValidation (400) and no block is disabled (§3
// at-most-one-enabled invariant).
func EnableDomainBlock(store domainBlockStore) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, ok := c.Locals("userID").(string)
		if !ok || userID == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing user id")
		}
		label := c.Params("label")
		if label == "" {
			return fiber.NewError(fiber.StatusBadRequest, "label is required")
		}

		if err := store.Enable(c.Context(), userID, label); err != nil {
			return mapStoreError(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// DisableDomainBlock disables the named block.
func DisableDomainBlock(store domainBlockStore) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, ok := c.Locals("userID").(string)
		if !ok || userID == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing user id")
		}
		label := c.Params("label")
		if label == "" {
			return fiber.NewError(fiber.StatusBadRequest, "label is required")
		}

		if err := store.Disable(c.Context(), userID, label); err != nil {
			return mapStoreError(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

func mapStoreError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, "domain block operation failed: "+err.Error())
	}
}
