package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/kaptiv/sequencer/credential"
	"github.com/kaptiv/sequencer/mailer"
	"github.com/kaptiv/sequencer/utils"
)

type CredentialController struct {
	Credentials *credential.Store
	Mailer      mailer.Sender
}

func NewCredentialController(creds *credential.Store, m mailer.Sender) *CredentialController {
	return &CredentialController{Credentials: creds, Mailer: m}
}

// Status handles GET /status?owner_id=.
func (cc *CredentialController) Status(c *fiber.Ctx) error {
	ownerID := c.Query("owner_id")
	if ownerID == "" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "validation", nil)
	}

	cred, err := cc.Credentials.Get(ownerID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "db_error", err)
	}
	if cred == nil || !cred.Connected() {
		return c.JSON(utils.SuccessResponse(fiber.Map{"connected": false}))
	}

	fields := fiber.Map{
		"connected":  true,
		"created_at": cred.CreatedAt,
	}
	if cred.Email != nil {
		fields["email"] = *cred.Email
	}
	return c.JSON(utils.SuccessResponse(fields))
}

type sendEmailRequest struct {
	OwnerID  string `json:"owner_id" validate:"required"`
	To       string `json:"to" validate:"required,email"`
	Subject  string `json:"subject"`
	BodyText string `json:"body_text"`
}

// SendEmail handles POST /send_email, a one-off send outside any sequence.
func (cc *CredentialController) SendEmail(c *fiber.Ctx) error {
	var req sendEmailRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "validation", err)
	}

	cred, err := cc.Credentials.Get(req.OwnerID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "db_error", err)
	}
	if cred == nil || !cred.Connected() {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "no_refresh_token", nil)
	}

	refreshToken, err := cc.Credentials.RefreshToken(req.OwnerID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "no_refresh_token", err)
	}

	from := req.OwnerID
	if cred.Email != nil && *cred.Email != "" {
		from = *cred.Email
	}

	ctx, cancel := context.WithTimeout(c.Context(), 30*time.Second)
	defer cancel()

	result, err := cc.Mailer.Send(ctx, refreshToken, mailer.Message{
		From:    from,
		To:      req.To,
		Subject: req.Subject,
		Body:    req.BodyText,
	})
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "send_error", err)
	}
	cc.Credentials.TouchLastUsed(req.OwnerID)

	return c.JSON(utils.SuccessResponse(fiber.Map{"message_id": result.MessageID}))
}
