package models

import "time"

// PluginConfig is the persisted per-provider configuration. Credentials hold
// the sealed JSON credential map and are never serialized to clients.
type PluginConfig struct {
	Provider    string    `gorm:"column:provider;primaryKey"`
	Enabled     bool      `gorm:"column:enabled;not null;default:false"`
	Sandbox     bool      `gorm:"column:sandbox;not null;default:true"`
	Credentials []byte    `gorm:"column:credentials;type:bytea"`
	Revision    int64     `gorm:"column:revision;not null;default:1"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
