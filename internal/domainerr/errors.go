// Package domainerr defines the typed errors surfaced by a shuffle.
//
// Every failure reaching a caller carries a stable code, a message and,
// where one exists, a remediation hint:
//
//	var derr *domainerr.Error
//	if errors.As(err, &derr) {
//		fmt.Printf("%s: %s (%s)\n", derr.Code(), derr.Message, derr.Hint)
//	}
//
// Sentinels match by kind, so errors.Is(err, domainerr.ErrNoMatchingItems)
// holds for any error of that kind regardless of message or cause.
package domainerr

import (
	"errors"
	"fmt"
)

// Kind identifies a class of domain failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindMissingChannelID
	KindDailyQuotaExceeded
	KindChannelTooLargeForBudget
	KindAllCredentialsExhausted
	KindCustomCredentialQuotaExceeded
	KindNoCredentialsAvailable
	KindChannelHasNoUploads
	KindAllUploadsDeleted
	KindFilterValueMissing
	KindFilterValueInvalid
	KindNoMatchingItems
	KindNoMatchingCategoryItems
)

var codes = map[Kind]string{
	KindUnknown:                       "unknown",
	KindMissingChannelID:              "missing_channel_id",
	KindDailyQuotaExceeded:            "daily_quota_exceeded",
	KindChannelTooLargeForBudget:      "channel_too_large_for_budget",
	KindAllCredentialsExhausted:       "all_credentials_exhausted",
	KindCustomCredentialQuotaExceeded: "custom_credential_quota_exceeded",
	KindNoCredentialsAvailable:        "no_credentials_available",
	KindChannelHasNoUploads:           "channel_has_no_uploads",
	KindAllUploadsDeleted:             "all_uploads_deleted",
	KindFilterValueMissing:            "filter_value_missing",
	KindFilterValueInvalid:            "filter_value_invalid",
	KindNoMatchingItems:               "no_matching_items",
	KindNoMatchingCategoryItems:       "no_matching_category_items",
}

// String returns the stable code of the kind.
func (k Kind) String() string {
	if c, ok := codes[k]; ok {
		return c
	}
	return codes[KindUnknown]
}

// Error is a domain failure with a user-facing message and optional hint.
type Error struct {
	Kind    Kind
	Message string
	Hint    string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a domain error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Code is the stable machine-readable identifier.
func (e *Error) Code() string { return e.Kind.String() }

// New builds a domain error of the given kind.
func New(kind Kind, message, hint string) *Error {
	return &Error{Kind: kind, Message: message, Hint: hint}
}

// Wrap builds a domain error that keeps cause in its chain.
func Wrap(kind Kind, message, hint string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Hint: hint, Err: cause}
}

// KindOf extracts the kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var derr *Error
	if errors.As(err, &derr) {
		return derr.Kind
	}
	return KindUnknown
}

// Sentinels for errors.Is comparisons.
var (
	ErrMissingChannelID = New(KindMissingChannelID,
		"no channel id was supplied", "open a channel or video page before shuffling")
	ErrDailyQuotaExceeded = New(KindDailyQuotaExceeded,
		"the daily request budget has been used up", "try again after the daily reset or configure a custom API key")
	ErrChannelTooLargeForBudget = New(KindChannelTooLargeForBudget,
		"the channel has more uploads than the remaining budget can fetch", "try again after the daily reset or configure a custom API key")
	ErrAllCredentialsExhausted = New(KindAllCredentialsExhausted,
		"every shared API key has exceeded its quota", "try again later or configure a custom API key")
	ErrCustomCredentialQuotaExceeded = New(KindCustomCredentialQuotaExceeded,
		"the custom API key has exceeded its quota", "wait for the key's quota to reset or remove it to use the shared keys")
	ErrNoCredentialsAvailable = New(KindNoCredentialsAvailable,
		"no API keys are available", "check the shared store connection or configure a custom API key")
	ErrChannelHasNoUploads = New(KindChannelHasNoUploads,
		"the channel has no uploads", "")
	ErrAllUploadsDeleted = New(KindAllUploadsDeleted,
		"every known upload of the channel has been deleted", "")
	ErrFilterValueMissing = New(KindFilterValueMissing,
		"the active shuffle filter has no value", "set a value for the filter or switch it to \"all\"")
	ErrFilterValueInvalid = New(KindFilterValueInvalid,
		"the active shuffle filter value is invalid", "check the filter value for this channel")
	ErrNoMatchingItems = New(KindNoMatchingItems,
		"no uploads match the active shuffle filter", "relax the filter for this channel")
	ErrNoMatchingCategoryItems = New(KindNoMatchingCategoryItems,
		"no uploads match the short-form setting", "change the shorts setting for this channel")
)

// With returns a copy of sentinel s with a more specific message.
func With(s *Error, message string) *Error {
	return &Error{Kind: s.Kind, Message: message, Hint: s.Hint}
}
