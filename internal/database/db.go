// =============================================================================
// 🗄️ bidflow 持久化层
// =============================================================================
// gorm 之上的连接管理与仓储：workflow、文档、步骤结果、需求/问题/答案
// 和实体/关系图镜像都落在这里。驱动支持 sqlite（默认，含 :memory:）
// 和 postgres。
// =============================================================================
package database

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/bidflow/config"
	"github.com/BaSui01/bidflow/types"
)

// Open 按配置打开数据库连接
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	gormCfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Driver {
	case "sqlite", "":
		path := cfg.Path
		if path == "" {
			path = "bidflow.db"
		}
		db, err = gorm.Open(sqlite.Open(path), gormCfg)
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)
		db, err = gorm.Open(postgres.Open(dsn), gormCfg)
	default:
		return nil, types.NewError(types.ErrConfiguration,
			fmt.Sprintf("unsupported database driver: %s", cfg.Driver))
	}
	if err != nil {
		return nil, fmt.Errorf("open database (%s): %w", cfg.Driver, err)
	}

	logger.Info("database opened", zap.String("driver", cfg.Driver))
	return db, nil
}

// Migrate 建表/迁移全部核心模型
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.Workflow{},
		&types.StepResult{},
		&types.Document{},
		&types.Requirement{},
		&types.Question{},
		&types.Answer{},
		&types.Entity{},
		&types.Relationship{},
	)
}
