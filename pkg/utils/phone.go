package utils

import (
	"errors"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// ErrInvalidMSISDN is returned for numbers M-Pesa cannot route.
var ErrInvalidMSISDN = errors.New("invalid Kenyan mobile number")

var msisdnPattern = regexp.MustCompile(`^254(7|1)\d{8}$`)

// NormalizeMSISDN turns 07XXXXXXXX, 01XXXXXXXX, +2547XXXXXXXX and 2547XXXXXXXX
// into the 2547XXXXXXXX form Daraja expects in PartyA/PartyB/PhoneNumber.
func NormalizeMSISDN(phone string) (string, error) {
	p := strings.ReplaceAll(strings.TrimSpace(phone), " ", "")
	p = strings.TrimPrefix(p, "+")
	if strings.HasPrefix(p, "0") {
		p = "254" + p[1:]
	}
	if !msisdnPattern.MatchString(p) {
		return "", ErrInvalidMSISDN
	}
	return p, nil
}

func validateMSISDN(fl validator.FieldLevel) bool {
	_, err := NormalizeMSISDN(fl.Field().String())
	return err == nil
}

// RegisterValidators adds the "msisdn" tag to gin's binding validator.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("unexpected binding validator engine")
	}
	return v.RegisterValidation("msisdn", validateMSISDN)
}
