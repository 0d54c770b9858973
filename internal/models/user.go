package models

import "time"

// UserConfig is one entry in the permissions file. The file supports a short form
// (username: role) that the permission service normalises into this struct.
type UserConfig struct {
	Role        string   `mapstructure:"role" json:"role"`
	Name        string   `mapstructure:"name" json:"name"`
	TelegramID  int64    `mapstructure:"telegram_id" json:"telegramId"`
	Projects    []string `mapstructure:"projects" json:"projects"`
	Permissions []string `mapstructure:"permissions" json:"permissions"`
	Admin       bool     `mapstructure:"admin" json:"admin"`
}

// ApprovalSettings are operator-tunable approval defaults from the
// permissions file; zero values fall back to service configuration.
type ApprovalSettings struct {
	TimeoutMinutes          int `mapstructure:"approval_timeout_minutes"`
	ReminderIntervalMinutes int `mapstructure:"reminder_interval_minutes"`
	MaxReminders            int `mapstructure:"max_reminders"`
}

// Timeout returns the configured default timeout, or fallback when unset.
func (s ApprovalSettings) Timeout(fallback time.Duration) time.Duration {
	if s.TimeoutMinutes <= 0 {
		return fallback
	}
	return time.Duration(s.TimeoutMinutes) * time.Minute
}

// ReminderInterval returns the configured interval, or fallback when unset.
func (s ApprovalSettings) ReminderInterval(fallback time.Duration) time.Duration {
	if s.ReminderIntervalMinutes <= 0 {
		return fallback
	}
	return time.Duration(s.ReminderIntervalMinutes) * time.Minute
}
