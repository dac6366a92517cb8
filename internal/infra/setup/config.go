package setup

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// 支持的数据库驱动
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// DBOptions 数据库连接参数
type DBOptions struct {
	Driver   string // mysql (默认) 或 sqlite
	DSN      string // 显式 DSN，优先于下面的分项配置
	User     string
	Password string
	Host     string
	Port     string
	Name     string
}

// BuildDSN 根据分项配置构建 DSN
func (o DBOptions) BuildDSN() (string, error) {
	if o.DSN != "" {
		return o.DSN, nil
	}
	switch o.Driver {
	case DriverSQLite:
		if o.Name == "" {
			return "", fmt.Errorf("DB_NAME (sqlite file path) must be set when DB_DSN is empty")
		}
		return o.Name, nil
	case DriverMySQL, "":
		if o.User == "" {
			return "", fmt.Errorf("DB_USER environment variable not set")
		}
		host, port, name := o.Host, o.Port, o.Name
		if host == "" {
			host = "127.0.0.1"
		}
		if port == "" {
			port = "3306"
		}
		if name == "" {
			name = "collab_editor"
		}
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			o.User, o.Password, host, port, name), nil
	default:
		return "", fmt.Errorf("unsupported DB_DRIVER '%s'", o.Driver)
	}
}

// InitDB 打开数据库连接并配置连接池
func InitDB(opts DBOptions) (*gorm.DB, error) {
	dsn, err := opts.BuildDSN()
	if err != nil {
		return nil, err
	}

	var dialector gorm.Dialector
	switch opts.Driver {
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		dialector = mysql.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError:                           true,
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", opts.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if opts.Driver == DriverSQLite {
		// SQLite 只允许单写者
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(50)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	logrus.WithField("driver", opts.Driver).Info("Database connected")
	return db, nil
}

// InitRedis 初始化 Redis 连接，Ping 失败视为启动失败
func InitRedis(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     20,
		MinIdleConns: 5,
		MaxConnAge:   30 * time.Minute,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	logrus.WithField("addr", addr).Info("Redis connected")
	return client, nil
}
