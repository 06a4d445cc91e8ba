package plugins

import (
	"context"
	"errors"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/paycore/pkg/db/models"
	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
	"github.com/angelmondragon/paycore/pkg/security"
)

// Config is a provider's unsealed configuration.
type Config struct {
	Provider    string
	Enabled     bool
	Sandbox     bool
	Credentials map[string]string
	Revision    int64
	UpdatedAt   time.Time
}

// CredentialKeys returns the credential names, never the values.
func (c Config) CredentialKeys() []string {
	keys := make([]string, 0, len(c.Credentials))
	for key := range c.Credentials {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Store persists plugin configuration. Every write bumps the revision.
type Store interface {
	Load(ctx context.Context, provider string) (*Config, error)
	Save(ctx context.Context, cfg Config) (*Config, error)
	SetEnabled(ctx context.Context, provider string, enabled bool) (*Config, error)
	List(ctx context.Context) ([]Config, error)
}

type gormStore struct {
	db     *gorm.DB
	sealer *security.Sealer
}

// NewStore returns a plugin_configs store that seals credentials at rest.
func NewStore(db *gorm.DB, sealer *security.Sealer) Store {
	return &gormStore{db: db, sealer: sealer}
}

func (s *gormStore) Load(ctx context.Context, provider string) (*Config, error) {
	row, err := s.find(s.db.WithContext(ctx), normalize(provider), false)
	if err != nil || row == nil {
		return nil, err
	}
	return s.unseal(row)
}

// Save upserts the configuration. A nil credential map keeps the stored one.
func (s *gormStore) Save(ctx context.Context, cfg Config) (*Config, error) {
	cfg.Provider = normalize(cfg.Provider)
	if cfg.Provider == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plugin provider is required")
	}
	var saved *Config
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.find(tx, cfg.Provider, true)
		if err != nil {
			return err
		}
		if existing == nil {
			sealed, err := s.sealer.Seal(cfg.Credentials)
			if err != nil {
				return err
			}
			row := models.PluginConfig{
				Provider:    cfg.Provider,
				Enabled:     cfg.Enabled,
				Sandbox:     cfg.Sandbox,
				Credentials: sealed,
				Revision:    1,
			}
			if err := tx.Select("*").Create(&row).Error; err != nil {
				return err
			}
			saved, err = s.unseal(&row)
			return err
		}
		updates := map[string]any{
			"enabled":    cfg.Enabled,
			"sandbox":    cfg.Sandbox,
			"revision":   gorm.Expr("revision + 1"),
			"updated_at": time.Now().UTC(),
		}
		if cfg.Credentials != nil {
			sealed, err := s.sealer.Seal(cfg.Credentials)
			if err != nil {
				return err
			}
			updates["credentials"] = sealed
		}
		if err := tx.Model(&models.PluginConfig{}).Where("provider = ?", cfg.Provider).Updates(updates).Error; err != nil {
			return err
		}
		row, err := s.find(tx, cfg.Provider, false)
		if err != nil {
			return err
		}
		saved, err = s.unseal(row)
		return err
	})
	return saved, err
}

func (s *gormStore) SetEnabled(ctx context.Context, provider string, enabled bool) (*Config, error) {
	provider = normalize(provider)
	res := s.db.WithContext(ctx).
		Model(&models.PluginConfig{}).
		Where("provider = ?", provider).
		Updates(map[string]any{
			"enabled":    enabled,
			"revision":   gorm.Expr("revision + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plugin not configured: "+provider)
	}
	return s.Load(ctx, provider)
}

func (s *gormStore) List(ctx context.Context) ([]Config, error) {
	var rows []models.PluginConfig
	if err := s.db.WithContext(ctx).Order("provider ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Config, 0, len(rows))
	for i := range rows {
		cfg, err := s.unseal(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *cfg)
	}
	return out, nil
}

func (s *gormStore) find(db *gorm.DB, provider string, lock bool) (*models.PluginConfig, error) {
	if lock {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row models.PluginConfig
	if err := db.Where("provider = ?", provider).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (s *gormStore) unseal(row *models.PluginConfig) (*Config, error) {
	creds, err := s.sealer.Open(row.Credentials)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unseal plugin credentials")
	}
	return &Config{
		Provider:    row.Provider,
		Enabled:     row.Enabled,
		Sandbox:     row.Sandbox,
		Credentials: creds,
		Revision:    row.Revision,
		UpdatedAt:   row.UpdatedAt,
	}, nil
}
