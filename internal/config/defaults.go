package config

import "path/filepath"

// Defaults returns a Config populated with working defaults. Load unmarshals
// the user's file on top of it, so absent keys keep these values.
func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Backend: BackendConfig{
			BaseURL:        "http://localhost:8000",
			WSURL:          "ws://localhost:8000/ws",
			TimeoutSeconds: 15,
		},
		Sync: SyncConfig{
			PollIntervalSeconds:  30,
			InitialDelaySeconds:  3,
			ReconnectBaseDelayMs: 1000,
			MaxReconnectAttempts: 5,
			LatestLimit:          50,
		},
		Alerts: AlertsConfig{
			HighPriorityThresholdMinutes: 30,
			MediumPriorityThresholdHours: 2,
			LowPriorityThresholdHours:    24,
			EscalationIntervalsMinutes:   []int{60, 180, 360},
			MaxEscalationLevel:           3,
			CheckIntervalSeconds:         60,
		},
		Rooms: RoomsConfig{
			Monitored: FlexStringList{},
		},
		Store: StoreConfig{
			DBPath:            filepath.Join(DefaultConfigDir(), "deleted.db"),
			MaxDeletedPerRoom: 100,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9091",
		},
	}
}
