package security

import (
	"crypto/subtle"
	"time"

	"securechat/logging"
	"securechat/wire"
)

// Handshake tokens sent by the host in reply to the client's passkey
const (
	TokenValid   = "VALID"
	TokenInvalid = "NOT VALID"
)

// Role identifies which side of the handshake a peer plays
type Role int

const (
	RoleHost Role = iota
	RoleClient
)

// String returns a human-readable representation of the role
func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleClient:
		return "client"
	default:
		return "unknown"
	}
}

// PasskeyManager runs the one round trip passkey handshake over an
// established connection
type PasskeyManager struct {
	cipher  Cipher
	timeout time.Duration
	logger  *logging.SecureLogger
}

// NewPasskeyManager creates a handshake runner. A zero timeout leaves the
// exchange unbounded.
func NewPasskeyManager(cipher Cipher, timeout time.Duration, logger *logging.SecureLogger) *PasskeyManager {
	if logger == nil {
		logger = logging.Nop()
	}
	return &PasskeyManager{cipher: cipher, timeout: timeout, logger: logger}
}

// VerifyPasskey runs the handshake for role and reports whether both peers
// hold the same passkey
func VerifyPasskey(conn *wire.LineConn, passkey string, role Role, cipher Cipher, timeout time.Duration) bool {
	return NewPasskeyManager(cipher, timeout, nil).Verify(conn, passkey, role)
}

// Verify runs the handshake. Every failure mode collapses to false; the
// reason only reaches the debug log.
func (pm *PasskeyManager) Verify(conn *wire.LineConn, passkey string, role Role) bool {
	if conn == nil || pm.cipher == nil {
		return false
	}

	if pm.timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(pm.timeout)); err != nil {
			pm.debug(role, "failed to set handshake deadline", err)
			return false
		}
		defer conn.SetDeadline(time.Time{})
	}

	if role == RoleHost {
		return pm.verifyAsHost(conn, passkey)
	}
	return pm.verifyAsClient(conn, passkey)
}

func (pm *PasskeyManager) verifyAsClient(conn *wire.LineConn, passkey string) bool {
	encrypted, err := pm.cipher.Encrypt(passkey)
	if err != nil {
		pm.debug(RoleClient, "failed to encrypt passkey", err)
		return false
	}
	if err := conn.WriteLine(encrypted); err != nil {
		pm.debug(RoleClient, "failed to send passkey", err)
		return false
	}

	reply, err := conn.ReadLine()
	if err != nil {
		pm.debug(RoleClient, "failed to read handshake reply", err)
		return false
	}

	if pm.cipher.Decrypt(reply) != TokenValid {
		pm.debug(RoleClient, "passkey rejected by host", nil)
		return false
	}
	return true
}

func (pm *PasskeyManager) verifyAsHost(conn *wire.LineConn, passkey string) bool {
	line, err := conn.ReadLine()
	if err != nil {
		pm.debug(RoleHost, "failed to read passkey", err)
		return false
	}

	received := pm.cipher.Decrypt(line)
	valid := received != "" && subtle.ConstantTimeCompare([]byte(received), []byte(passkey)) == 1

	token := TokenInvalid
	if valid {
		token = TokenValid
	}

	reply, err := pm.cipher.Encrypt(token)
	if err != nil {
		pm.debug(RoleHost, "failed to encrypt handshake reply", err)
		return false
	}
	if err := conn.WriteLine(reply); err != nil {
		pm.debug(RoleHost, "failed to send handshake reply", err)
		return false
	}

	if !valid {
		pm.debug(RoleHost, "received passkey does not match", nil)
	}
	return valid
}

func (pm *PasskeyManager) debug(role Role, message string, err error) {
	metadata := map[string]interface{}{
		"role": role.String(),
	}
	if err != nil {
		metadata["error"] = err.Error()
	}
	pm.logger.Debug("passkey", message, metadata)
}
