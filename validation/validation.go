// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package validation registers custom validations for directory inputs:
// app slugs, secret names and feature flag names.
package validation

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

// Validator returns a new validator.Validate instance with all custom
// validations registered.
func Validator() *validator.Validate {
	v := validator.New()
	RegisterAll(v)
	return v
}

// RegisterAll registers all custom validations with the provided validator.
func RegisterAll(v *validator.Validate) {
	mustRegisterValidation(v, "slug", IsSlug)
	mustRegisterValidation(v, "secretName", IsSecretName)
	mustRegisterValidation(v, "flagName", IsFlag)
}

func mustRegisterValidation(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(err)
	}
}

var (
	slugRegex       = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,62}[a-z0-9])?$`)
	secretNameRegex = regexp.MustCompile(`^[A-Z][A-Z0-9_]{0,127}$`)
)

// IsSlug validates an app slug: lowercase letters, digits and inner
// hyphens, at most 64 characters.
func IsSlug(fl validator.FieldLevel) bool {
	return ValidateSlug(fl.Field().String()) == nil
}

// IsSecretName validates a secret name: an uppercase environment
// variable style identifier such as PROVIDERX_KEY.
func IsSecretName(fl validator.FieldLevel) bool {
	return ValidateSecretName(fl.Field().String()) == nil
}

// IsFlag validates a feature flag name, which follows slug rules.
func IsFlag(fl validator.FieldLevel) bool {
	return ValidateSlug(fl.Field().String()) == nil
}

func ValidateSlug(s string) error {
	if !slugRegex.MatchString(s) {
		return &Error{Value: s, Rule: "slug"}
	}
	return nil
}

func ValidateSecretName(s string) error {
	if !secretNameRegex.MatchString(s) {
		return &Error{Value: s, Rule: "secretName"}
	}
	return nil
}

// Error describes a value that failed a validation rule.
// The offending value is included, callers must not pass secret values.
type Error struct {
	Value string
	Rule  string
}

func (e *Error) Error() string {
	return "invalid " + e.Rule + " " + e.Value
}
