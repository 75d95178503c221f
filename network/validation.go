package network

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"securechat/config"
)

// User facing validation messages
const (
	StatusSelectRole      = "Please select host or client."
	StatusSelectOneRole   = "Please select either host or client, not both."
	StatusEnterIP         = "Please enter an IP address."
	StatusEnterValidIP    = "Please enter a valid IP address."
	StatusEnterPasskey    = "Please enter a passkey."
	StatusPasskeyTooShort = "Passkey must be at least 8 characters long."
)

// ValidIPv4 reports whether ip is exactly four dot separated decimal octets
func ValidIPv4(ip string) bool {
	parts := strings.Split(ip, ".")
	if len(parts) != 4 {
		return false
	}
	for _, part := range parts {
		if !isOctet(part) {
			return false
		}
	}
	return true
}

// isOctet accepts one to three ASCII digits with a value up to 255. Signs
// and spaces are rejected before strconv sees them.
func isOctet(part string) bool {
	if len(part) == 0 || len(part) > 3 {
		return false
	}
	for i := 0; i < len(part); i++ {
		if part[i] < '0' || part[i] > '9' {
			return false
		}
	}
	n, err := strconv.Atoi(part)
	return err == nil && n <= 255
}

// ValidatePasskey checks the passkey is present and long enough
func ValidatePasskey(passkey string) error {
	if passkey == "" {
		return NewValidationError(ErrCodeInvalidPasskey, StatusEnterPasskey, "passkey validation")
	}
	if utf8.RuneCountInString(passkey) < config.MinPasskeyLength {
		return NewValidationError(ErrCodeInvalidPasskey, StatusPasskeyTooShort, "passkey validation").
			WithMetadata("min_length", config.MinPasskeyLength)
	}
	return nil
}

// ValidateRequest checks connection inputs and returns the first problem
// found. The address is only checked for clients.
func ValidateRequest(isHost, isClient bool, ip, passkey string) error {
	if !isHost && !isClient {
		return NewValidationError(ErrCodeInvalidRole, StatusSelectRole, "role selection")
	}
	if isHost && isClient {
		return NewValidationError(ErrCodeInvalidRole, StatusSelectOneRole, "role selection")
	}

	if isClient {
		if ip == "" {
			return NewValidationError(ErrCodeInvalidAddress, StatusEnterIP, "address validation")
		}
		if !ValidIPv4(ip) {
			return NewValidationError(ErrCodeInvalidAddress, StatusEnterValidIP, "address validation").
				WithMetadata("address", ip)
		}
	}

	return ValidatePasskey(passkey)
}

// PrepareConnection validates the inputs and reports the first problem to
// status. It returns true when a connection may be started.
func PrepareConnection(isHost, isClient bool, ip, passkey string, status StatusListener) bool {
	err := ValidateRequest(isHost, isClient, ip, passkey)
	if err == nil {
		return true
	}

	if status != nil {
		if chatErr, ok := err.(*ChatError); ok {
			status.OnStatusUpdate(chatErr.Message)
		} else {
			status.OnStatusUpdate(err.Error())
		}
	}
	return false
}
