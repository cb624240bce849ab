package handlers

import (
	"regexp"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var (
	pincodeRe    = regexp.MustCompile(`^[1-9][0-9]{5}$`)
	couponCodeRe = regexp.MustCompile(`^[A-Za-z0-9_-]{3,32}$`)
)

// RegisterValidators adds the store's custom binding tags to gin's validator.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	if err := v.RegisterValidation("pincode", func(fl validator.FieldLevel) bool {
		return pincodeRe.MatchString(strings.TrimSpace(fl.Field().String()))
	}); err != nil {
		return err
	}
	return v.RegisterValidation("coupon_code", func(fl validator.FieldLevel) bool {
		return couponCodeRe.MatchString(strings.TrimSpace(fl.Field().String()))
	})
}
