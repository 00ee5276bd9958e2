package validator

import (
	"errors"
	"fmt"
	"reclock/pkg/logger"
	"reclock/pkg/model"
	"strings"

	"github.com/go-playground/validator/v10"
)

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	var messages []string
	for _, err := range v {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %d error(s): [%s]", len(v), strings.Join(messages, "; "))
}

// LockValidator rejects malformed requests before any store access. Unknown
// entity types and lock modes never reach the lock manager.
type LockValidator struct {
	validate *validator.Validate
	logger   *logger.Logger
}

func NewLockValidator(log *logger.Logger) *LockValidator {
	v := validator.New()

	if err := v.RegisterValidation("entity_type", validateEntityType); err != nil {
		log.Fatal("Failed to register 'entity_type' validator", "error", err)
	}
	if err := v.RegisterValidation("lock_mode", validateLockMode); err != nil {
		log.Fatal("Failed to register 'lock_mode' validator", "error", err)
	}

	return &LockValidator{
		validate: v,
		logger:   log,
	}
}

func validateEntityType(fl validator.FieldLevel) bool {
	return model.EntityType(fl.Field().String()).Valid()
}

func validateLockMode(fl validator.FieldLevel) bool {
	return model.LockMode(fl.Field().String()).Valid()
}

func (v *LockValidator) ValidateAcquire(req *model.AcquireRequest) error {
	return v.validateStruct(req)
}

func (v *LockValidator) ValidateRelease(req *model.ReleaseRequest) error {
	return v.validateStruct(req)
}

func (v *LockValidator) ValidateReleaseByID(req *model.ReleaseByIDRequest) error {
	return v.validateStruct(req)
}

func (v *LockValidator) ValidateForceRelease(req *model.ForceReleaseRequest) error {
	return v.validateStruct(req)
}

func (v *LockValidator) ValidateHeartbeat(req *model.HeartbeatRequest) error {
	return v.validateStruct(req)
}

func (v *LockValidator) ValidateHeartbeatAll(req *model.HeartbeatAllRequest) error {
	return v.validateStruct(req)
}

func (v *LockValidator) validateStruct(req any) error {
	if err := v.validate.Struct(req); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			return v.translateValidationErrors(validationErrs)
		}
		return err
	}
	return nil
}

func (v *LockValidator) translateValidationErrors(errs validator.ValidationErrors) ValidationErrors {
	var validationErrors ValidationErrors

	for _, err := range errs {
		message := err.Error()

		switch err.Tag() {
		case "required":
			message = fmt.Sprintf("%s is required", err.Field())
		case "min":
			message = fmt.Sprintf("%s must be at least %s characters", err.Field(), err.Param())
		case "max":
			message = fmt.Sprintf("%s must be at most %s characters", err.Field(), err.Param())
		case "entity_type":
			message = fmt.Sprintf("%s must be one of: %s", err.Field(), joinEntityTypes())
		case "lock_mode":
			message = fmt.Sprintf("%s must be one of: %s", err.Field(), joinLockModes())
		}

		validationErrors = append(validationErrors, ValidationError{
			Field:   err.Field(),
			Message: message,
		})
	}

	return validationErrors
}

func joinEntityTypes() string {
	types := model.EntityTypes()
	values := make([]string, 0, len(types))
	for _, t := range types {
		values = append(values, string(t))
	}
	return strings.Join(values, ", ")
}

func joinLockModes() string {
	modes := model.LockModes()
	values := make([]string, 0, len(modes))
	for _, m := range modes {
		values = append(values, string(m))
	}
	return strings.Join(values, ", ")
}
