package testutil

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/neurobridge-ale/internal/data/db"
	"github.com/yungbote/neurobridge-ale/internal/domain"
	"github.com/yungbote/neurobridge-ale/internal/domain/learning"
	"github.com/yungbote/neurobridge-ale/internal/platform/logger"
)

var errMissingDSN = errors.New("missing TEST_POSTGRES_DSN")

var (
	pgOnce sync.Once
	pgDB   *gorm.DB
	pgErr  error

	logOnce sync.Once
	logg    *logger.Logger
	logErr  error
)

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	logOnce.Do(func() {
		logg, logErr = logger.New("test")
	})
	if logErr != nil {
		tb.Fatalf("failed to init logger: %v", logErr)
	}
	return logg
}

// DB returns a freshly migrated SQLite database private to the test.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), "ale_test.db")
	gdb, err := db.OpenSQLite(path, nil)
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrateAll(gdb, db.MigrateOptions{IncludeCatalog: true}); err != nil {
		tb.Fatalf("migrate: %v", err)
	}
	tb.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return gdb
}

// PostgresDB returns a shared Postgres database from TEST_POSTGRES_DSN, or
// skips the test when it is unset.
func PostgresDB(tb testing.TB) *gorm.DB {
	tb.Helper()
	pgOnce.Do(func() {
		dsn := os.Getenv("TEST_POSTGRES_DSN")
		if dsn == "" {
			pgErr = errMissingDSN
			return
		}
		pgDB, pgErr = gorm.Open(postgres.Open(dsn), &gorm.Config{
			DisableForeignKeyConstraintWhenMigrating: true,
			Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
			NowFunc:                                  func() time.Time { return time.Now().UTC() },
		})
		if pgErr != nil {
			return
		}
		pgErr = db.AutoMigrateAll(pgDB, db.MigrateOptions{IncludeCatalog: true})
	})
	if errors.Is(pgErr, errMissingDSN) {
		tb.Skip("set TEST_POSTGRES_DSN to run postgres integration tests")
	}
	if pgErr != nil {
		tb.Fatalf("failed to init test db: %v", pgErr)
	}
	return pgDB
}

func Tx(tb testing.TB, gdb *gorm.DB) *gorm.DB {
	tb.Helper()
	tx := gdb.Begin()
	if tx.Error != nil {
		tb.Fatalf("begin tx: %v", tx.Error)
	}
	tb.Cleanup(func() {
		_ = tx.Rollback().Error
	})
	return tx
}

// CountActiveRecommendations counts live rows for one recommendation key,
// ignoring expiry.
func CountActiveRecommendations(tb testing.TB, gdb *gorm.DB, learnerID int64, kind learning.RecommendationKind, targetKey int64) int64 {
	tb.Helper()
	var n int64
	if err := gdb.Model(&domain.Recommendation{}).
		Where("learner_id = ? AND kind = ? AND target_key = ? AND active = ?", learnerID, kind, targetKey, true).
		Count(&n).Error; err != nil {
		tb.Fatalf("count recommendations: %v", err)
	}
	return n
}

// Curriculum is a seeded course: one learner, one course with one module
// holding two sequences. Sequence A has blocks A1, A2 (required) and A3
// (optional); sequence B has block B1. Question QA belongs to a quiz on
// sequence A without a block; QB points at block B1 directly.
type Curriculum struct {
	Learner        domain.Learner
	Course         domain.Course
	Module         domain.Module
	SeqA, SeqB     domain.Sequence
	A1, A2, A3, B1 domain.Block
	Quiz           domain.Quiz
	QA, QB         domain.Question
}

func SeedCurriculum(tb testing.TB, gdb *gorm.DB) *Curriculum {
	tb.Helper()
	quizSeq := int64(10)
	quizID := int64(50)
	b1 := int64(200)
	c := &Curriculum{
		Learner: domain.Learner{ID: 1, InstitutionID: 9, Role: "learner", DisplayName: "Ada", Active: true},
		Course:  domain.Course{ID: 1, InstitutionID: 9, Title: "Algebra"},
		Module:  domain.Module{ID: 1, CourseID: 1, Title: "Linear equations", Position: 1},
		SeqA:    domain.Sequence{ID: 10, ModuleID: 1, Title: "Basics", Position: 1},
		SeqB:    domain.Sequence{ID: 20, ModuleID: 1, Title: "Practice", Position: 2},
		A1:      domain.Block{ID: 100, SequenceID: 10, Title: "What is x", Body: "<p>A variable stands for a number.</p>", Position: 1, Visible: true, Required: true},
		A2:      domain.Block{ID: 101, SequenceID: 10, Title: "Balancing", Body: "<p>Do the same thing to both sides.</p>", Position: 2, Visible: true, Required: true},
		A3:      domain.Block{ID: 102, SequenceID: 10, Title: "History", Body: "<p>Al-Khwarizmi.</p>", Position: 3, Visible: true, Required: false},
		B1:      domain.Block{ID: 200, SequenceID: 20, Title: "Drill", Body: "<p>Solve 2x + 3 = 7.</p>", Position: 1, Visible: true, Required: true},
		Quiz:    domain.Quiz{ID: quizID, SequenceID: &quizSeq, Title: "Check"},
		QA:      domain.Question{ID: 42, QuizID: &quizID, Statement: "Solve x + 2 = 5", Concepts: "isolation"},
		QB:      domain.Question{ID: 43, BlockID: &b1, Statement: "Solve 2x = 8", Concepts: "division"},
	}
	rows := []any{
		&c.Learner, &c.Course, &c.Module, &c.SeqA, &c.SeqB,
		&c.A1, &c.A2, &c.A3, &c.B1, &c.Quiz, &c.QA, &c.QB,
	}
	for _, r := range rows {
		if err := gdb.Create(r).Error; err != nil {
			tb.Fatalf("seed %T: %v", r, err)
		}
	}
	// Visible/Required default to true in the schema, so false values need an explicit write.
	if err := gdb.Model(&domain.Block{}).Where("id = ?", c.A3.ID).Update("required", false).Error; err != nil {
		tb.Fatalf("seed optional block: %v", err)
	}
	return c
}
