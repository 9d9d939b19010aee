// Package validator holds small composable checks for settings.
package validator

import (
	"cmp"
	"fmt"
	"net/url"
	"slices"
	"strings"
)

func All(errors ...error) error {
	for _, err := range errors {
		if err != nil {
			return err
		}
	}
	return nil
}

type Validatable interface {
	Validate() error
}

func Each[T Validatable](items []T) error {
	for i, item := range items {
		if err := item.Validate(); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
	}
	return nil
}

func Map[T any](items []T, f func(T, string) error, description string) error {
	for i, item := range items {
		if err := f(item, fmt.Sprintf("%s[%d]", description, i)); err != nil {
			return err
		}
	}
	return nil
}

func NotEmpty(field, description string) error {
	if field == "" {
		return fmt.Errorf("%s must not be empty", description)
	}
	return nil
}

func NoDuplicates[T comparable](slice []T, description string) error {
	seen := make(map[T]struct{})
	for _, v := range slice {
		if _, ok := seen[v]; ok {
			return fmt.Errorf("%s contains duplicate value: %v", description, v)
		}
		seen[v] = struct{}{}
	}
	return nil
}

func MatchesAllowed[T comparable](field T, allowed []T, description string) error {
	if !slices.Contains(allowed, field) {
		return fmt.Errorf("%s must be one of %v, got %v", description, allowed, field)
	}
	return nil
}

func InRange[T cmp.Ordered](field, lo, hi T, description string) error {
	if field < lo || field > hi {
		return fmt.Errorf("%s must be between %v and %v, got %v", description, lo, hi, field)
	}
	return nil
}

// HasPrefix is shaped for use with Map.
func HasPrefix(prefix string) func(string, string) error {
	return func(field, description string) error {
		if !strings.HasPrefix(field, prefix) || len(field) == len(prefix) {
			return fmt.Errorf("%s must start with %q, got %q", description, prefix, field)
		}
		return nil
	}
}

// HTTPURL accepts an empty field or an absolute http(s) URL.
func HTTPURL(field, description string) error {
	if field == "" {
		return nil
	}
	u, err := url.Parse(field)
	if err != nil {
		return fmt.Errorf("%s: %w", description, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an http or https URL, got %q", description, field)
	}
	return nil
}

func NoTemplateSyntax(field string, description string) error {
	if field != "" && (strings.Contains(field, "{{") || strings.Contains(field, "{%")) {
		return fmt.Errorf("%s must not contain template syntax", description)
	}
	return nil
}
