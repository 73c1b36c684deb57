package mfclassic

import (
	"errors"
	"fmt"
	"log/slog"
)

// AuthError represents an authentication failure at a specific step.
type AuthError struct {
	Step  string // "load" or "auth"
	Block uint8
	SW    uint16 // Status word (if applicable)
	Cause error  // Underlying error
}

func (e *AuthError) Error() string {
	if e == nil {
		return "auth error"
	}
	if e.Cause != nil {
		return fmt.Sprintf("auth %s block %d failed: %v", e.Step, e.Block, e.Cause)
	}
	return fmt.Sprintf("auth %s block %d failed (SW=%04X)", e.Step, e.Block, e.SW)
}

func (e *AuthError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// ClassifyAuthError extracts details from an AuthError.
func ClassifyAuthError(err error) (step string, sw uint16, ok bool) {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Step, authErr.SW, true
	}
	return "", 0, false
}

// IsWrongKey reports whether err is a rejected authentication, as opposed to
// a transport or reader failure.
func IsWrongKey(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr) && authErr.Step == "auth" && authErr.Cause == nil && authErr.SW == SWOperationFailed
}

// LoadKey stores key in the reader's volatile key slot (FF 82).
func LoadKey(card Card, slot byte, key Key) error {
	apdu := make([]byte, 0, 5+KeySize)
	apdu = append(apdu, 0xFF, 0x82, 0x00, slot, KeySize)
	apdu = append(apdu, key[:]...)
	_, sw, err := Transmit(card, apdu)
	if err != nil {
		return &AuthError{Step: "load", Cause: err}
	}
	if !SwOK(sw) {
		return &AuthError{Step: "load", SW: sw}
	}
	return nil
}

// Authenticate runs GENERAL AUTHENTICATE (FF 86) for block using the key in slot.
func Authenticate(card Card, block uint8, kt KeyType, slot byte) error {
	apdu := []byte{0xFF, 0x86, 0x00, 0x00, 0x05, 0x01, 0x00, block, kt.AuthCommand(), slot}
	_, sw, err := Transmit(card, apdu)
	if err != nil {
		return &AuthError{Step: "auth", Block: block, Cause: err}
	}
	if !SwOK(sw) {
		return &AuthError{Step: "auth", Block: block, SW: sw}
	}
	return nil
}

// AuthenticateKey loads key into slot 0 and authenticates block with it.
func AuthenticateKey(card Card, block uint8, kt KeyType, key Key) error {
	if err := LoadKey(card, 0x00, key); err != nil {
		return err
	}
	if err := Authenticate(card, block, kt, 0x00); err != nil {
		return err
	}
	slog.Debug("authenticated", "block", block, "key_type", kt.String(), "key", key.String())
	return nil
}
