package controllers

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/kaptiv/sequencer/models"
	"github.com/kaptiv/sequencer/starter"
	"github.com/kaptiv/sequencer/utils"
)

type SequenceController struct {
	DB      *gorm.DB
	Starter *starter.Starter
}

func NewSequenceController(db *gorm.DB, st *starter.Starter) *SequenceController {
	return &SequenceController{DB: db, Starter: st}
}

type stepInput struct {
	StepOrder int    `json:"step_order" validate:"required,min=1"`
	Subject   string `json:"subject" validate:"required"`
	BodyText  string `json:"body_text"`
	DelayDays int    `json:"delay_days" validate:"min=0"`
}

type createStepsRequest struct {
	SequenceID uint        `json:"sequence_id" validate:"required"`
	Steps      []stepInput `json:"steps"`
	stepInput              // single-step shorthand, flattened inline
}

// CreateSteps handles POST /api/steps: bulk create, or a single step when
// the caller posts step fields directly instead of a `steps` array.
func (sc *SequenceController) CreateSteps(c *fiber.Ctx) error {
	var req createStepsRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "invalid request body", err)
	}
	if req.SequenceID == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "validation", nil)
	}

	inputs := req.Steps
	if len(inputs) == 0 && req.stepInput.Subject != "" {
		inputs = []stepInput{req.stepInput}
	}
	if len(inputs) == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "validation", nil)
	}

	rows := make([]models.SequenceStep, 0, len(inputs))
	for _, in := range inputs {
		if err := utils.ValidateStruct(in); err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "validation", err)
		}
		rows = append(rows, models.SequenceStep{
			SequenceID: req.SequenceID,
			StepOrder:  in.StepOrder,
			Subject:    in.Subject,
			BodyText:   in.BodyText,
			DelayDays:  in.DelayDays,
		})
	}

	if err := sc.DB.Create(&rows).Error; err != nil {
		if isUniqueViolation(err) {
			return utils.ErrorResponse(c, fiber.StatusConflict, "conflict", err)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "db_error", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"inserted": len(rows),
		"rows":     rows,
	}))
}

type upsertStepRequest struct {
	ID         uint   `json:"id"`
	SequenceID uint   `json:"sequence_id" validate:"required"`
	StepOrder  int    `json:"step_order"`
	Subject    string `json:"subject" validate:"required"`
	BodyText   string `json:"body_text"`
	DelayDays  int    `json:"delay_days" validate:"min=0"`
}

// UpsertStep handles POST /api/sequence_step_upsert.
func (sc *SequenceController) UpsertStep(c *fiber.Ctx) error {
	var req upsertStepRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "validation", err)
	}

	var step models.SequenceStep
	if req.ID != 0 {
		if err := sc.DB.First(&step, req.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorResponse(c, fiber.StatusNotFound, "not_found", nil)
			}
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "db_error", err)
		}
	}

	step.SequenceID = req.SequenceID
	step.Subject = req.Subject
	step.BodyText = req.BodyText
	step.DelayDays = req.DelayDays
	if req.StepOrder != 0 {
		step.StepOrder = req.StepOrder
	}

	if err := sc.DB.Save(&step).Error; err != nil {
		if isUniqueViolation(err) {
			return utils.ErrorResponse(c, fiber.StatusConflict, "conflict", err)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "db_error", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{"step": step}))
}

type startSequenceRequest struct {
	SequenceID      uint      `json:"sequence_id" validate:"required"`
	OwnerID         string    `json:"owner_id" validate:"required"`
	Recipients      []string  `json:"recipients"`
	FirstSendTime   *time.Time `json:"first_send_time"`
	Timezone        string    `json:"timezone"`
}

// StartSequence handles POST /api/start_sequence.
func (sc *SequenceController) StartSequence(c *fiber.Ctx) error {
	var req startSequenceRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "validation", err)
	}

	out, err := sc.Starter.Start(starter.Input{
		SequenceID:    req.SequenceID,
		OwnerID:       req.OwnerID,
		Recipients:    req.Recipients,
		FirstSendTime: req.FirstSendTime,
		Timezone:      req.Timezone,
	})
	if err != nil {
		switch {
		case errors.Is(err, starter.ErrNoSteps), errors.Is(err, starter.ErrNoRecipients):
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "validation", err)
		default:
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "db_error", err)
		}
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(fiber.Map{
		"runs": out.Runs,
		"jobs": out.Jobs,
	}))
}

func isUniqueViolation(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "duplicate key") || strings.Contains(err.Error(), "UNIQUE constraint"))
}
