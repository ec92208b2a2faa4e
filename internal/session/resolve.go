package session

import "github.com/taskora/chatsync/internal/config"

const DefaultSessionName = "default"

// Resolve determines the active session name using precedence:
// 1. flagOverride (--session flag)
// 2. CHATSYNC_SESSION environment variable
// 3. config.toml default_session
// 4. "default"
func Resolve(flagOverride, envOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if envOverride != "" {
		return envOverride
	}
	cfg, err := config.Load(ConfigPath())
	if err == nil && cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return DefaultSessionName
}
