package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/angelmondragon/solverpay-backend/pkg/config"
	"golang.org/x/crypto/argon2"
)

const (
	// APIKeyPrefix marks every client secret issued by the service.
	APIKeyPrefix = "sk_live_"

	apiKeySecretBytes = 24
	lookupHexChars    = 12
)

// ErrInvalidHash signals a malformed Argon2id hash string.
var ErrInvalidHash = fmt.Errorf("invalid argon2id hash")

// ErrMalformedAPIKey is returned for values that cannot be an issued key.
var ErrMalformedAPIKey = fmt.Errorf("malformed api key")

// ArgonParams captures the Argon2id parameters we embed into each hash string.
type ArgonParams struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLen     uint32
	KeyLen      uint32
}

// IssuedKey is a freshly generated API key. Plaintext is shown to the caller once.
type IssuedKey struct {
	Plaintext string
	Lookup    string
	Hash      string
}

// GenerateAPIKey creates a random key, its lookup prefix, and its argon2id hash.
func GenerateAPIKey(cfg config.APIKeyConfig) (IssuedKey, error) {
	secret := make([]byte, apiKeySecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return IssuedKey{}, fmt.Errorf("generate api key: %w", err)
	}
	plaintext := APIKeyPrefix + hex.EncodeToString(secret)

	hash, err := HashAPIKey(plaintext, cfg)
	if err != nil {
		return IssuedKey{}, err
	}
	lookup, err := LookupPrefix(plaintext)
	if err != nil {
		return IssuedKey{}, err
	}
	return IssuedKey{Plaintext: plaintext, Lookup: lookup, Hash: hash}, nil
}

// LookupPrefix returns the indexed, non-secret head of an API key.
func LookupPrefix(key string) (string, error) {
	key = strings.TrimSpace(key)
	if !strings.HasPrefix(key, APIKeyPrefix) {
		return "", ErrMalformedAPIKey
	}
	body := key[len(APIKeyPrefix):]
	if len(body) != apiKeySecretBytes*2 {
		return "", ErrMalformedAPIKey
	}
	if _, err := hex.DecodeString(body); err != nil {
		return "", ErrMalformedAPIKey
	}
	return key[:len(APIKeyPrefix)+lookupHexChars], nil
}

// HashAPIKey returns a formatted Argon2id hash for the provided key.
func HashAPIKey(key string, cfg config.APIKeyConfig) (string, error) {
	if key == "" {
		return "", fmt.Errorf("api key cannot be empty")
	}

	params := paramsFromConfig(cfg)
	salt := make([]byte, params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(key), salt, params.Time, params.Memory, params.Parallelism, params.KeyLen)

	encSalt := base64.RawStdEncoding.EncodeToString(salt)
	encHash := base64.RawStdEncoding.EncodeToString(hash)

	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s", params.Memory, params.Time, params.Parallelism, encSalt, encHash), nil
}

// VerifyAPIKey reports whether key matches the encoded hash.
func VerifyAPIKey(key, encoded string) (bool, error) {
	params, salt, hash, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(key), salt, params.Time, params.Memory, params.Parallelism, params.KeyLen)
	return subtle.ConstantTimeCompare(hash, computed) == 1, nil
}

func paramsFromConfig(cfg config.APIKeyConfig) ArgonParams {
	return ArgonParams{
		Memory:      clampUint32(cfg.ArgonMemoryKB, 8, 512*1024),
		Time:        clampUint32(cfg.ArgonTime, 1, 10),
		Parallelism: uint8(clampInt(cfg.ArgonParallelism, 1, 255)),
		SaltLen:     clampUint32(cfg.ArgonSaltLen, 8, 64),
		KeyLen:      clampUint32(cfg.ArgonKeyLen, 16, 64),
	}
}

func decodeHash(encoded string) (ArgonParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return ArgonParams{}, nil, nil, ErrInvalidHash
	}

	var params ArgonParams
	for _, token := range strings.Split(parts[3], ",") {
		key, value, ok := strings.Cut(token, "=")
		if !ok {
			return ArgonParams{}, nil, nil, ErrInvalidHash
		}
		bits := 32
		if key == "p" {
			bits = 8
		}
		v, err := strconv.ParseUint(value, 10, bits)
		if err != nil {
			return ArgonParams{}, nil, nil, ErrInvalidHash
		}
		switch key {
		case "m":
			params.Memory = uint32(v)
		case "t":
			params.Time = uint32(v)
		case "p":
			params.Parallelism = uint8(v)
		}
	}
	if params.Memory == 0 || params.Time == 0 || params.Parallelism == 0 {
		return ArgonParams{}, nil, nil, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return ArgonParams{}, nil, nil, ErrInvalidHash
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return ArgonParams{}, nil, nil, ErrInvalidHash
	}

	params.SaltLen = uint32(len(salt))
	params.KeyLen = uint32(len(hash))

	return params, salt, hash, nil
}

func clampInt(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func clampUint32(value, min, max int) uint32 {
	return uint32(clampInt(value, min, max))
}
