package ai

import (
	"errors"
	"strings"
)

var (
	// ErrProviderUnconfigured — нет ни ключа, ни секрета. Текст разбирается UI, не менять.
	ErrProviderUnconfigured = errors.New("OPENAI_SECRET_ID is not configured (or set OPENAI_API_KEY for local dev)")
	// ErrKeyNotInSecret — секрет найден, но ключа в нём нет.
	ErrKeyNotInSecret = errors.New("OPENAI_API_KEY not found in secret")
)

var credentialMarkers = []string{
	"openai_api_key_invalid",
	"openai_api_key_missing",
	"incorrect api key",
	"invalid api key",
	"openai_secret_id is not configured",
}

// IsCredentialMessage сообщает, говорит ли текст ошибки об отсутствующем или неверном ключе.
func IsCredentialMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, m := range credentialMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// IsCredentialError то же, что IsCredentialMessage, для error.
func IsCredentialError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrProviderUnconfigured) || errors.Is(err, ErrKeyNotInSecret) {
		return true
	}
	return IsCredentialMessage(err.Error())
}
