package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kong/agentchat/internal/chat/validation"
)

const (
	BaseURLConfigPath             = "chat.base-url"
	TokenConfigPath               = "chat.token"
	WorkingDirectoryConfigPath    = "chat.working-directory"
	RequestTimeoutConfigPath      = "chat.request-timeout"
	ReconnectInitialDelayPath     = "chat.reconnect.initial-delay"
	ReconnectMaxDelayPath         = "chat.reconnect.max-delay"
	TranscriptEnabledConfigPath   = "chat.transcript.enabled"
	ValidationMaxLengthPath       = "validation.max-length"
	ValidationMinLengthPath       = "validation.min-length"
	ValidationMaxWordLengthPath   = "validation.max-word-length"
	ValidationAllowEmptyPath      = "validation.allow-empty"
	ValidationForbiddenPatternKey = "validation.forbidden-patterns"

	DefaultBaseURL   = "http://localhost:3000/api"
	DefaultMaxLength = 10000

	DefaultRequestTimeout        = 30 * time.Second
	DefaultReconnectInitialDelay = time.Second
	DefaultReconnectMaxDelay     = 30 * time.Second
)

// ChatSettings is the resolved chat section of a profile.
type ChatSettings struct {
	BaseURL               string
	Token                 string
	WorkingDirectory      string
	RequestTimeout        time.Duration
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	TranscriptEnabled     bool
	Validation            validation.Config
}

// LoadChatSettings reads the chat and validation keys from cfg, filling in
// defaults for anything unset. The base URL must be an absolute http(s) URL.
func LoadChatSettings(cfg Hook) (ChatSettings, error) {
	s := ChatSettings{
		BaseURL:               strings.TrimSpace(cfg.GetString(BaseURLConfigPath)),
		Token:                 strings.TrimSpace(cfg.GetString(TokenConfigPath)),
		WorkingDirectory:      strings.TrimSpace(cfg.GetString(WorkingDirectoryConfigPath)),
		RequestTimeout:        durationOr(cfg, RequestTimeoutConfigPath, DefaultRequestTimeout),
		ReconnectInitialDelay: durationOr(cfg, ReconnectInitialDelayPath, DefaultReconnectInitialDelay),
		ReconnectMaxDelay:     durationOr(cfg, ReconnectMaxDelayPath, DefaultReconnectMaxDelay),
		TranscriptEnabled:     cfg.GetBool(TranscriptEnabledConfigPath),
	}
	if s.BaseURL == "" {
		s.BaseURL = DefaultBaseURL
	}
	u, err := url.Parse(s.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ChatSettings{}, fmt.Errorf("%s must be an absolute http(s) URL, got %q", BaseURLConfigPath, s.BaseURL)
	}
	if s.ReconnectMaxDelay < s.ReconnectInitialDelay {
		return ChatSettings{}, fmt.Errorf("%s (%s) is shorter than %s (%s)",
			ReconnectMaxDelayPath, s.ReconnectMaxDelay, ReconnectInitialDelayPath, s.ReconnectInitialDelay)
	}

	rules := validation.DefaultConfig()
	rules.MaxLength = cfg.GetIntOrElse(ValidationMaxLengthPath, DefaultMaxLength)
	rules.MinLength = cfg.GetInt(ValidationMinLengthPath)
	rules.MaxWordLength = cfg.GetInt(ValidationMaxWordLengthPath)
	rules.AllowEmpty = cfg.GetBool(ValidationAllowEmptyPath)
	rules.ForbiddenPatterns = cfg.GetStringSlice(ValidationForbiddenPatternKey)
	if rules.MinLength < 0 || rules.MaxLength < 0 || rules.MaxWordLength < 0 {
		return ChatSettings{}, fmt.Errorf("validation lengths cannot be negative")
	}
	s.Validation = rules

	return s, nil
}

func durationOr(cfg Hook, key string, orElse time.Duration) time.Duration {
	if !cfg.IsSet(key) {
		return orElse
	}
	if d := cfg.GetDuration(key); d > 0 {
		return d
	}
	return orElse
}
