// Package probeerr defines the machine-readable error kinds surfaced on the
// control plane and carried across agent boundaries. Every terminal failure
// in the orchestrator maps to exactly one Kind.
package probeerr

import (
	"errors"
	"fmt"
)

// Kind identifies a failure class. The string values are part of the wire
// contract: status responses expose them verbatim in the "error" field.
type Kind string

const (
	KindInvalidTopicDirectiveFormat Kind = "InvalidTopicDirectiveFormat"
	KindMissingFeaturesDirectory    Kind = "MissingFeaturesDirectory"
	KindMissingTopicDirectiveFile   Kind = "MissingTopicDirectiveFile"
	KindBucketUriParse              Kind = "BucketUriParse"
	KindDuplicateTopic              Kind = "DuplicateTopic"
	KindInvalidBootstrapServers     Kind = "InvalidBootstrapServers"

	KindVaultAuth               Kind = "VaultAuth"
	KindVaultNotFound           Kind = "VaultNotFound"
	KindVaultMapping            Kind = "VaultMapping"
	KindVaultConfiguration      Kind = "VaultConfiguration"
	KindVaultTimeout            Kind = "VaultTimeout"
	KindVaultRateLimit          Kind = "VaultRateLimit"
	KindVaultServiceUnavailable Kind = "VaultServiceUnavailable"
	KindInvalidTemplate         Kind = "InvalidTemplate"

	KindKafkaProduce                 Kind = "KafkaProduce"
	KindSchemaNotFound               Kind = "SchemaNotFound"
	KindUnsupportedSchemaType        Kind = "UnsupportedSchemaType"
	KindSchemaRegistryNotInitialized Kind = "SchemaRegistryNotInitialized"

	KindDslNotInitialized  Kind = "DslNotInitialized"
	KindActorNotRegistered Kind = "ActorNotRegistered"

	KindServiceTimeout       Kind = "ServiceTimeout"
	KindServiceUnavailable   Kind = "ServiceUnavailable"
	KindBackpressureExceeded Kind = "BackpressureExceeded"

	KindCucumberError Kind = "CucumberError"
	KindCucumberFail  Kind = "CucumberFail"
)

// Error pairs a Kind with a human-readable message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an Error with the given kind and message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error wrapping cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind from err, or "" when err carries none.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// Transient reports whether the error kind is retryable. Only vault-side
// throttling, availability, and timeout failures qualify.
func Transient(err error) bool {
	switch KindOf(err) {
	case KindVaultTimeout, KindVaultRateLimit, KindVaultServiceUnavailable:
		return true
	}
	return false
}
