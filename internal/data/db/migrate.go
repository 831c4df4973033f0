package db

import (
	"fmt"

	"github.com/yungbote/neurobridge-ale/internal/domain"
	"gorm.io/gorm"
)

type MigrateOptions struct {
	// IncludeCatalog also creates the curriculum tables. Production shares
	// them with the curriculum service, which owns their schema.
	IncludeCatalog bool
}

func AutoMigrateAll(db *gorm.DB, opts MigrateOptions) error {
	models := domain.EngineModels()
	if opts.IncludeCatalog {
		models = append(domain.CatalogModels(), models...)
	}
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return EnsureEngineIndexes(db)
}

func EnsureEngineIndexes(db *gorm.DB) error {
	stmts := []struct {
		name string
		sql  string
	}{
		// At most one live recommendation per (learner, kind, target).
		{"ux_recommendation_active", `
			CREATE UNIQUE INDEX IF NOT EXISTS ux_recommendation_active
			ON recommendation (learner_id, kind, target_key)
			WHERE active;`},
		{"idx_recommendation_list", `
			CREATE INDEX IF NOT EXISTS idx_recommendation_list
			ON recommendation (learner_id, active, priority, created_at);`},
		// Duplicate scheduling of the same generation is a no-op while one is pending.
		{"ux_job_run_dedup_pending", `
			CREATE UNIQUE INDEX IF NOT EXISTS ux_job_run_dedup_pending
			ON job_run (dedup_key)
			WHERE dedup_key <> '' AND status IN ('queued', 'running', 'retrying');`},
		{"idx_job_run_claim", `
			CREATE INDEX IF NOT EXISTS idx_job_run_claim
			ON job_run (status, next_run_at, created_at);`},
		{"idx_generated_content_lookup", `
			CREATE INDEX IF NOT EXISTS idx_generated_content_lookup
			ON generated_content (learner_id, block_id, kind, created_at);`},
	}
	for _, st := range stmts {
		if err := db.Exec(st.sql).Error; err != nil {
			return fmt.Errorf("create %s: %w", st.name, err)
		}
	}
	return nil
}
