package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kaptiv/sequencer/config"
	"github.com/kaptiv/sequencer/oauthflow"
	"github.com/kaptiv/sequencer/utils"
)

type OAuthController struct {
	Flow *oauthflow.Flow
}

func NewOAuthController(flow *oauthflow.Flow) *OAuthController {
	return &OAuthController{Flow: flow}
}

type startOAuthRequest struct {
	OwnerID   string `json:"owner_id" validate:"required"`
	ReturnURL string `json:"return_url"`
}

// Start handles POST /oauth/start.
func (oc *OAuthController) Start(c *fiber.Ctx) error {
	var req startOAuthRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "validation", err)
	}

	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = config.AppConfig.FrontendReturn
	}

	authURL, state, err := oc.Flow.Start(req.OwnerID, returnURL)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "db_error", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"auth_url": authURL,
		"state":    state,
	}))
}

// Callback handles GET /oauth2/callback.
func (oc *OAuthController) Callback(c *fiber.Ctx) error {
	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "validation", nil)
	}

	result, err := oc.Flow.Callback(c.Context(), code, state)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid or expired state", err)
	}

	redirectURL := result.ReturnURL
	if redirectURL == "" {
		redirectURL = config.AppConfig.FrontendReturn
	}
	return c.Redirect(redirectURL+"?status=success&owner_id="+result.OwnerID, fiber.StatusFound)
}
