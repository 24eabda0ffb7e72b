package sqlstore

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tidemail/store/framework/module"
)

// Config selects the SQL dialect and connection string this backend
// opens, generalized from a single mailbox-quota table into the full
// mailbox/message schema.
type Config struct {
	Driver       string
	DSN          []string
	Debug        bool
	InMemory     bool
	SyncInterval time.Duration
}

// SyncLockPlugin serializes every query against an in-memory sqlite
// database behind one RWMutex, so the periodic VACUUM INTO snapshot never
// races a concurrent write.
type SyncLockPlugin struct {
	mu *sync.RWMutex
}

func (p *SyncLockPlugin) Name() string { return "sync_lock" }

func (p *SyncLockPlugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Create().Before("*").Register("sync_lock:before", p.lock); err != nil {
		return err
	}
	if err := db.Callback().Query().Before("*").Register("sync_lock:before", p.lock); err != nil {
		return err
	}
	if err := db.Callback().Update().Before("*").Register("sync_lock:before", p.lock); err != nil {
		return err
	}
	if err := db.Callback().Delete().Before("*").Register("sync_lock:before", p.lock); err != nil {
		return err
	}
	if err := db.Callback().Row().Before("*").Register("sync_lock:before", p.lock); err != nil {
		return err
	}
	if err := db.Callback().Raw().Before("*").Register("sync_lock:before", p.lock); err != nil {
		return err
	}

	if err := db.Callback().Create().After("*").Register("sync_lock:after", p.unlock); err != nil {
		return err
	}
	if err := db.Callback().Query().After("*").Register("sync_lock:after", p.unlock); err != nil {
		return err
	}
	if err := db.Callback().Update().After("*").Register("sync_lock:after", p.unlock); err != nil {
		return err
	}
	if err := db.Callback().Delete().After("*").Register("sync_lock:after", p.unlock); err != nil {
		return err
	}
	if err := db.Callback().Row().After("*").Register("sync_lock:after", p.unlock); err != nil {
		return err
	}
	if err := db.Callback().Raw().After("*").Register("sync_lock:after", p.unlock); err != nil {
		return err
	}
	return nil
}

func (p *SyncLockPlugin) lock(db *gorm.DB) {
	p.mu.RLock()
}

func (p *SyncLockPlugin) unlock(db *gorm.DB) {
	p.mu.RUnlock()
}

// openDB opens a GORM connection for cfg.Driver/cfg.DSN and, for an
// in-memory sqlite instance, keeps it synced to the on-disk DSN path so
// mailbox contents survive a restart without paying per-write fsync cost.
func openDB(cfg Config) (*gorm.DB, error) {
	dsnStr := strings.Join(cfg.DSN, " ")
	originalDSN := dsnStr

	var dialector gorm.Dialector
	if (cfg.Driver == "sqlite3" || cfg.Driver == "sqlite") && cfg.InMemory && !module.NoRun {
		dsnStr = "file::memory:?cache=shared"
	}

	switch cfg.Driver {
	case "sqlite3", "sqlite":
		dialector = sqlite.Open(dsnStr)
	case "postgres":
		dialector = postgres.Open(dsnStr)
	case "mysql":
		dialector = mysql.Open(dsnStr)
	default:
		return nil, fmt.Errorf("sqlstore: unsupported database driver: %s", cfg.Driver)
	}

	gormCfg := &gorm.Config{}
	if !cfg.Debug {
		gormCfg.Logger = logger.Default.LogMode(logger.Silent)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open database: %w", err)
	}

	if (cfg.Driver == "sqlite3" || cfg.Driver == "sqlite") && cfg.InMemory && !module.NoRun {
		mu := &sync.RWMutex{}
		if err := db.Use(&SyncLockPlugin{mu: mu}); err != nil {
			return nil, fmt.Errorf("sqlstore: register sync lock plugin: %w", err)
		}

		if originalDSN != "" && originalDSN != ":memory:" {
			if _, err := os.Stat(originalDSN); err == nil {
				if err := loadFromDisk(db, originalDSN); err != nil {
					return nil, fmt.Errorf("sqlstore: load database from disk: %w", err)
				}
			}
		}

		if cfg.SyncInterval > 0 && originalDSN != "" && originalDSN != ":memory:" {
			go backgroundSync(db, originalDSN, cfg.SyncInterval, mu)
		}
	}

	return db, nil
}

func loadFromDisk(db *gorm.DB, path string) error {
	return db.Connection(func(tx *gorm.DB) error {
		if err := tx.Exec(fmt.Sprintf("ATTACH DATABASE '%s' AS disk", path)).Error; err != nil {
			return err
		}
		defer tx.Exec("DETACH DATABASE disk")

		var tables []string
		if err := tx.Raw("SELECT name FROM disk.sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'").Scan(&tables).Error; err != nil {
			return err
		}

		for _, table := range tables {
			tx.Exec(fmt.Sprintf("DROP TABLE IF EXISTS main.%s", table))
			if err := tx.Exec(fmt.Sprintf("CREATE TABLE main.%s AS SELECT * FROM disk.%s", table, table)).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func backgroundSync(db *gorm.DB, path string, interval time.Duration, mu *sync.RWMutex) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		mu.Lock()
		tempPath := path + ".tmp"
		os.Remove(tempPath)

		// Run the snapshot on the raw pool: db.Exec would go through the
		// sync_lock Raw callback and block on RLock while mu is held here.
		sqlDB, err := db.DB()
		if err == nil {
			_, err = sqlDB.Exec(fmt.Sprintf("VACUUM INTO '%s'", tempPath))
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "sqlstore: sync in-memory database to disk: %v\n", err)
			mu.Unlock()
			continue
		}

		if err := os.Rename(tempPath, path); err != nil {
			fmt.Fprintf(os.Stderr, "sqlstore: rename synced database: %v\n", err)
		}
		mu.Unlock()
	}
}
