package protocol

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"liveclass/pkg/types"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	mustRegister(v, "roomid", func(fl validator.FieldLevel) bool {
		return types.IsValidRoomID(fl.Field().String())
	})
	mustRegister(v, "userid", func(fl validator.FieldLevel) bool {
		return types.IsValidUserID(fl.Field().String())
	})
	mustRegister(v, "displayname", func(fl validator.FieldLevel) bool {
		return types.IsValidDisplayName(fl.Field().String())
	})
	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("protocol: register %s validation: %v", tag, err))
	}
}

// validateInbound maps validator failures onto protocol sentinels
func validateInbound(ev Inbound) error {
	err := validate.Struct(ev)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	fe := verrs[0]
	switch {
	case fe.Field() == "RoomID" && fe.Tag() == "required":
		return ErrMissingRoomID
	case fe.Field() == "RoomID":
		return types.ErrInvalidRoomID
	case fe.Field() == "UserID":
		return types.ErrInvalidUserID
	case fe.Field() == "DisplayName":
		return types.ErrInvalidDisplayName
	case fe.Field() == "Type":
		return types.ErrInvalidChatType
	case fe.Field() == "Text" && fe.Tag() == "max":
		return types.ErrChatTooLarge
	case fe.Field() == "Text":
		return types.ErrEmptyChatText
	default:
		return fmt.Errorf("%w: %s failed %s", ErrInvalidEvent, fe.Field(), fe.Tag())
	}
}
