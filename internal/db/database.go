package db

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goatnetwork/bond-aevum/internal/db/migrations"
	"github.com/goatnetwork/bond-aevum/internal/types"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type DatabaseManager struct {
	bondDb   *gorm.DB
	aevumDb  *gorm.DB
	bridgeDb *gorm.DB
}

func NewDatabaseManager(dbDir string) (*DatabaseManager, error) {
	dm := &DatabaseManager{}
	if err := dm.initDB(dbDir); err != nil {
		return nil, err
	}
	return dm, nil
}

func openSqlite(path string) (*gorm.DB, error) {
	// WAL keeps readers unblocked while a block or transfer commits.
	return gorm.Open(sqlite.Open(path+"?_journal_mode=WAL&_busy_timeout=5000"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
}

func (dm *DatabaseManager) initDB(dbDir string) error {
	if err := os.MkdirAll(dbDir, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	bondPath := filepath.Join(dbDir, "bond_blocks.db")
	bondDb, err := openSqlite(bondPath)
	if err != nil {
		return fmt.Errorf("failed to connect to bond block database: %w", err)
	}
	dm.bondDb = bondDb
	log.Debugf("Bond block database connected successfully, path: %s", bondPath)

	aevumPath := filepath.Join(dbDir, "aevum_blocks.db")
	aevumDb, err := openSqlite(aevumPath)
	if err != nil {
		return fmt.Errorf("failed to connect to aevum block database: %w", err)
	}
	dm.aevumDb = aevumDb
	log.Debugf("Aevum block database connected successfully, path: %s", aevumPath)

	bridgePath := filepath.Join(dbDir, "bridge.db")
	bridgeDb, err := openSqlite(bridgePath)
	if err != nil {
		return fmt.Errorf("failed to connect to bridge database: %w", err)
	}
	dm.bridgeDb = bridgeDb
	log.Debugf("Bridge database connected successfully, path: %s", bridgePath)

	if err := dm.autoMigrate(); err != nil {
		return err
	}
	log.Debugf("Database migration completed successfully")
	return nil
}

func (dm *DatabaseManager) autoMigrate() error {
	for _, chainDb := range []*gorm.DB{dm.bondDb, dm.aevumDb} {
		if err := chainDb.AutoMigrate(&BlockRecord{}, &TxRecord{}); err != nil {
			return fmt.Errorf("failed to migrate block database: %w", err)
		}
	}
	if err := dm.bridgeDb.AutoMigrate(&Transfer{}, &SignedRecord{}); err != nil {
		return fmt.Errorf("failed to migrate bridge database: %w", err)
	}
	return RunBridgeMigrations(dm.bridgeDb)
}

// RunBridgeMigrations applies the schema changes AutoMigrate cannot express.
func RunBridgeMigrations(bridgeDb *gorm.DB) error {
	mm := migrations.NewMigrationManager(bridgeDb)
	if err := mm.EnsureMigrationTable(); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}
	if err := mm.RunMigration("20250301_transfer_active_index", migrations.AddTransferActiveIndex); err != nil {
		return err
	}
	return nil
}

func (dm *DatabaseManager) GetChainDB(chain types.ChainID) *gorm.DB {
	switch chain {
	case types.ChainBond:
		return dm.bondDb
	case types.ChainAevum:
		return dm.aevumDb
	default:
		return nil
	}
}

func (dm *DatabaseManager) GetBridgeDB() *gorm.DB {
	return dm.bridgeDb
}

func (dm *DatabaseManager) Close() error {
	for _, gdb := range []*gorm.DB{dm.bondDb, dm.aevumDb, dm.bridgeDb} {
		sqlDb, err := gdb.DB()
		if err != nil {
			return err
		}
		if err := sqlDb.Close(); err != nil {
			return err
		}
	}
	return nil
}
