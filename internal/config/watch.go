package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watch hot-reloads the config file for the life of ctx. A successful
// reload swaps the in-memory config and runs the RegisterOnReload
// callbacks (bridge restart; the policy client and welcome settings
// pick up new values on their next read). Run in a goroutine from the
// composition root.
func Watch(ctx context.Context) {
	path := Path()
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		slog.Warn("config file not watchable, hot reload disabled", "path", path, "error", err)
		return
	}

	reload := func() {
		cfg, err := Load(path)
		if err != nil {
			// A bad edit must not take the daemon down mid-moderation;
			// keep serving with the previous config.
			slog.Warn("config reload rejected, keeping previous config", "path", path, "error", err)
			return
		}
		Set(cfg)
		notifyReload(cfg)
		slog.Info("config reloaded",
			"path", path,
			"policyBaseURL", cfg.Policy.BaseURL,
			"pollIntervalSeconds", cfg.Poll.IntervalSeconds)
	}

	// Editors emit several write events per save; collapse each burst
	// into one reload.
	var debounce *time.Timer
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		if filepath.Clean(e.Name) != filepath.Clean(path) {
			return
		}
		if debounce != nil {
			debounce.Stop()
		}
		debounce = time.AfterFunc(200*time.Millisecond, reload)
	})

	<-ctx.Done()
}
