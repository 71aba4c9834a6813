package services

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"reftrack/internal/config"
	"reftrack/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) (*gorm.DB, *repository.Store) {
	db, err := repository.InitDB(config.Config{DatabaseURL: "sqlite://:memory:"})
	require.NoError(t, err)
	require.NoError(t, repository.AutoMigrate(db))
	return db, repository.NewStore(db)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testTiers(t *testing.T) TierTable {
	table, err := ParseTierTable("base:0:0.10,gold:50:0.20")
	require.NoError(t, err)
	return table
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func at(seconds int) time.Time {
	return t0.Add(time.Duration(seconds) * time.Second)
}

// fixture wires the full service graph over one in-memory database.
type fixture struct {
	db       *gorm.DB
	store    *repository.Store
	audit    *AuditService
	codes    *CodeGenerator
	resolver *LinkResolver
	recorder *EventRecorder
	engine   *CommissionEngine
	reports  *ReportingFacade
}

func newFixture(t *testing.T) *fixture {
	db, store := setupTestDB(t)
	logger := testLogger()
	audit := NewAuditService(store, logger)
	resolver := NewLinkResolver(store, nil, time.Minute, logger)
	return &fixture{
		db:       db,
		store:    store,
		audit:    audit,
		codes:    NewCodeGenerator(store, resolver, audit, logger, CodeGeneratorConfig{}),
		resolver: resolver,
		recorder: NewEventRecorder(store, nil, logger),
		engine:   NewCommissionEngine(store, testTiers(t), audit, logger, 2),
		reports:  NewReportingFacade(store),
	}
}
