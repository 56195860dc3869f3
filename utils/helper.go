package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"bitbucket.org/mmdatafocus/distribution_backend/config"
	"github.com/bsm/redislock"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/ttacon/libphonenumber"
)

// CountryCode is the default region for phone number validation.
var CountryCode = "MM"

// ProcessValidationErrors flattens validator errors into a field->tag
// map for API responses. err must be validator.ValidationErrors.
func ProcessValidationErrors(err error) map[string]string {
	fields := make(map[string]string)
	for _, ve := range err.(validator.ValidationErrors) {
		fields[ve.Field()] = ve.Tag()
	}
	return fields
}

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

// ValidatePhoneNumber checks that phoneNumber is a valid number for
// the given region.
func ValidatePhoneNumber(phoneNumber, countryCode string) error {
	p, err := libphonenumber.Parse(phoneNumber, countryCode)
	if err != nil {
		return err
	}
	if !libphonenumber.IsValidNumber(p) {
		return fmt.Errorf("phone number is not valid")
	}
	return nil
}

// UniqueSlice drops duplicates, keeping first-seen order.
func UniqueSlice[T comparable](slice []T) []T {
	seen := make(map[T]bool, len(slice))
	var result []T
	for _, elm := range slice {
		if !seen[elm] {
			seen[elm] = true
			result = append(result, elm)
		}
	}
	return result
}

// ExecTemplate renders a SQL text/template with data. Only trusted,
// in-repo template strings go through here; values still bind as
// placeholders.
func ExecTemplate(tString string, data map[string]interface{}) (string, error) {
	t, err := template.New("sql").Parse(tString)
	if err != nil {
		return "", errors.New("error parsing sql template: " + err.Error())
	}
	var b bytes.Buffer
	if err := t.Execute(&b, data); err != nil {
		return "", errors.New("failed to execute sql template: " + err.Error())
	}
	return b.String(), nil
}

// DereferencePtr returns *ptr, or the optional default (else the zero
// value) when ptr is nil.
func DereferencePtr[T any](ptr *T, defaults ...T) T {
	if ptr != nil {
		return *ptr
	}
	var defaultValue T
	if len(defaults) > 0 {
		defaultValue = defaults[0]
	}
	return defaultValue
}

// NilIfEmpty maps a zero value to nil, anything else to a pointer.
func NilIfEmpty[T comparable](v T) *T {
	var zero T
	if v == zero {
		return nil
	}
	return &v
}

// ConvertToDate buckets a point in time into the tenant's calendar day.
// The returned value is midnight of that day in the tenant timezone.
func ConvertToDate(t time.Time, timezone string) (time.Time, error) {
	if timezone == "" {
		timezone = "Asia/Yangon"
	}

	location, err := time.LoadLocation(timezone)
	if err != nil {
		return t, err
	}
	localTime := t.In(location)

	dateOnly := time.Date(localTime.Year(), localTime.Month(), localTime.Day(), 0, 0, 0, 0, location)
	return dateOnly, nil
}

// ParseDecimal converts a string to a decimal.Decimal value.
func ParseDecimal(value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, errors.New("empty decimal string")
	}

	dec, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, err
	}

	return dec, nil
}

// BusinessLock obtains a best-effort redis lock for the business and releases it immediately.
// Definitive serialization is the MySQL advisory lock in workflow; this only sheds
// obviously concurrent requests early. Without an initialized Redis lock client
// (CLI entry points, server warm-up) the shed is skipped rather than refused.
func BusinessLock(ctx context.Context, businessId string, lockType string, moduleName string, functionName string) error {
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	if locker == nil {
		logger.WithField("business_id", businessId).
			Warnf("%s: redis lock not initialized; skipping early shed", functionName)
		return nil
	}
	lockKey := fmt.Sprintf("%s:%s", lockType, businessId)
	lock, err := locker.Obtain(ctx, lockKey, 30*time.Second, nil)
	if err == redislock.ErrNotObtained {
		config.LogError(logger, moduleName, functionName, "Could not obtain lock for businessID", businessId, err)
		return errors.New("could not obtain lock for businessID")
	} else if err != nil {
		config.LogError(logger, moduleName, functionName, "Error obtaining lock for businessID", businessId, err)
		return err
	}
	defer func() {
		_ = lock.Release(ctx)
	}()

	return nil
}
