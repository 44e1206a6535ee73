package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultCSRFField    = "csrf-token"
	DefaultCSRFTokenTTL = time.Hour
)

var (
	ErrCSRFSecretMissing = errors.New("csrf secret is not configured")
	ErrCSRFValueInvalid  = errors.New("csrf token value must not contain ':'")
)

// CSRFValidator verifies self-contained "value:expirationMs:signature" tokens.
// It keeps no per-token state, so a token can be replayed until it expires.
type CSRFValidator struct {
	secret []byte
	now    func() time.Time
	logger *zap.Logger
}

func NewCSRFValidator(secret string, logger *zap.Logger) (*CSRFValidator, error) {
	if secret == "" {
		return nil, ErrCSRFSecretMissing
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CSRFValidator{
		secret: []byte(secret),
		now:    time.Now,
		logger: logger,
	}, nil
}

// Issue mints a token for value that expires after ttl. An empty value gets a
// random nonce.
func (v *CSRFValidator) Issue(value string, ttl time.Duration) (string, time.Time, error) {
	if value == "" {
		value = uuid.NewString()
	}
	if strings.Contains(value, ":") {
		return "", time.Time{}, ErrCSRFValueInvalid
	}
	if ttl <= 0 {
		ttl = DefaultCSRFTokenTTL
	}

	expiresAt := v.now().Add(ttl)
	payload := value + ":" + strconv.FormatInt(expiresAt.UnixMilli(), 10)
	return payload + ":" + hex.EncodeToString(v.sign(payload)), expiresAt, nil
}

// ValidateToken reports whether token was issued with this secret and has not
// expired. The rejection reason is logged, never returned.
func (v *CSRFValidator) ValidateToken(token string) bool {
	if token == "" {
		v.logger.Warn("csrf token missing")
		return false
	}

	parts := strings.Split(token, ":")
	if len(parts) != 3 {
		v.logger.Warn("csrf token malformed", zap.Int("parts", len(parts)))
		return false
	}

	expiration, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		v.logger.Warn("csrf token expiration invalid")
		return false
	}
	if v.now().UnixMilli() > expiration {
		v.logger.Warn("csrf token expired", zap.Int64("expiration", expiration))
		return false
	}

	provided, err := hex.DecodeString(parts[2])
	if err != nil {
		v.logger.Warn("csrf token signature not hex")
		return false
	}

	// the signed message is the literal text, not the re-serialised integer
	expected := v.sign(parts[0] + ":" + parts[1])
	if len(provided) != len(expected) {
		v.logger.Warn("csrf token signature length mismatch")
		return false
	}
	if subtle.ConstantTimeCompare(provided, expected) != 1 {
		v.logger.Warn("csrf token signature mismatch")
		return false
	}

	return true
}

// ValidateFormToken looks up fieldName (default "csrf-token") in a decoded
// form and validates it. Missing or non-string values are rejected.
func (v *CSRFValidator) ValidateFormToken(form map[string]any, fieldName string) bool {
	if form == nil {
		v.logger.Warn("csrf form data missing")
		return false
	}
	if fieldName == "" {
		fieldName = DefaultCSRFField
	}

	token, ok := form[fieldName].(string)
	if !ok {
		v.logger.Warn("csrf form field missing or not a string", zap.String("field", fieldName))
		return false
	}
	return v.ValidateToken(token)
}

func (v *CSRFValidator) sign(message string) []byte {
	mac := hmac.New(sha256.New, v.secret)
	_, _ = mac.Write([]byte(message))
	return mac.Sum(nil)
}
