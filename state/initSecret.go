package state

import (
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// InitSecret loads the RSA key pair. The public key verifies API and bridge
// tokens and is required; the private key only signs tokens for the dev
// bridge and may be absent.
func InitSecret(publicPath, privatePath string) (*JwtSecret, error) {
	pubKeyBytes, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	pubKey, err := jwt.ParseRSAPublicKeyFromPEM(pubKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}

	secret := &JwtSecret{Public: pubKey}
	if privatePath == "" {
		return secret, nil
	}

	privKeyBytes, err := os.ReadFile(privatePath)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("path", privatePath).Msg("private key not found, tokens cannot be issued")
		return secret, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	privKey, err := jwt.ParseRSAPrivateKeyFromPEM(privKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	if privKey.PublicKey.N.Cmp(pubKey.N) != 0 {
		return nil, errors.New("private key does not match public key")
	}
	secret.Private = privKey

	log.Info().Msg("JWT secret initialized successfully")
	return secret, nil
}
