package main

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/cast"
)

type DatabaseConfig struct {
	Driver string `conf:"DB_DRIVER,postgres"`

	Host string `conf:"DB_HOST"`
	Port int    `conf:"DB_PORT,5432"`

	Username string `conf:"DB_USER_NAME"`
	Password string `conf:"DB_USER_PASSWORD"`
	Database string `conf:"DB_DATABASE"`

	// SQLitePath is used instead of the host credentials
	// when the sqlite driver is selected.
	SQLitePath string `conf:"DB_SQLITE_PATH"`
}

type BackupConfig struct {
	// Storage is the backup root that holds the
	// full_backups/ and incremental/ class directories.
	Storage   string `conf:"BACKUP_STORAGE,/backup"`
	SourceDir string `conf:"BACKUP_SOURCE_DIR,."`

	ScheduleFull        string `conf:"BACKUP_SCHEDULE_FULL,@daily"`
	ScheduleIncremental string `conf:"BACKUP_SCHEDULE_INCREMENTAL,@hourly"`

	FullMaxBackups           int `conf:"BACKUP_FULL_MAX,2"`
	FullRetentionDays        int `conf:"BACKUP_FULL_RETENTION_DAYS,30"`
	IncrementalMaxBackups    int `conf:"BACKUP_INCREMENTAL_MAX,10"`
	IncrementalRetentionDays int `conf:"BACKUP_INCREMENTAL_RETENTION_DAYS,7"`

	BatchSize            int `conf:"BACKUP_BATCH_SIZE,1000"`
	LargeFileThresholdMB int `conf:"BACKUP_LARGE_FILE_THRESHOLD_MB,50"`
	TimeoutMinutes       int `conf:"BACKUP_TIMEOUT_MINUTES,60"`

	// ExtraExclude adds comma separated exclusion patterns
	// on top of the built in set.
	ExtraExclude string `conf:"BACKUP_EXCLUDE"`
}

type Config struct {
	Database DatabaseConfig
	Backup   BackupConfig
}

// FullRetention policy for the full backup class.
func (c BackupConfig) FullRetention() RetentionPolicy {
	return RetentionPolicy{
		MaxBackups:    c.FullMaxBackups,
		RetentionDays: c.FullRetentionDays,
	}
}

// IncrementalRetention policy for the incremental backup class.
func (c BackupConfig) IncrementalRetention() RetentionPolicy {
	return RetentionPolicy{
		MaxBackups:    c.IncrementalMaxBackups,
		RetentionDays: c.IncrementalRetentionDays,
	}
}

func (c BackupConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMinutes) * time.Minute
}

func (c BackupConfig) extraExcludePatterns() []string {
	if c.ExtraExclude == "" {
		return nil
	}
	split := strings.Split(c.ExtraExclude, ",")
	patterns := make([]string, 0, len(split))
	for _, p := range split {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, p)
		}
	}
	return patterns
}

// validate configuration
func (c *Config) validate() error {
	db := c.Database
	switch db.Driver {
	case "postgres":
		if db.Host != "" {
			if db.Username == "" {
				return errors.New("database host given but username is missing")
			}
			if db.Password == "" {
				return errors.New("database host given but user password is missing")
			}
			if db.Database == "" {
				return errors.New("database host given but database name is missing")
			}
		}
	case "sqlite":
		if db.SQLitePath == "" {
			return errors.New("sqlite driver selected but DB_SQLITE_PATH is missing")
		}
	default:
		return fmt.Errorf("unknown database driver %q", db.Driver)
	}

	b := c.Backup
	if b.Storage == "" {
		return errors.New("backup storage directory is missing")
	}
	if b.FullMaxBackups < 1 || b.IncrementalMaxBackups < 1 {
		return errors.New("max backups must be at least 1")
	}
	if b.FullRetentionDays < 1 || b.IncrementalRetentionDays < 1 {
		return errors.New("retention days must be at least 1")
	}
	if b.BatchSize < 1 {
		return errors.New("batch size must be at least 1")
	}

	return nil
}

// loadStruct fills a config struct from the environment based on the
// conf:"NAME,default" field tags.
func loadStruct(st reflect.Value) error {
	for i := 0; i < st.NumField(); i++ {
		field := st.Field(i)
		fieldType := st.Type().Field(i)

		// load sub structures
		if fieldType.Type.Kind() == reflect.Struct {
			if err := loadStruct(field); err != nil {
				return err
			}
			continue
		}

		// get conf tag and skip this field if tag does not exist
		tag, ok := fieldType.Tag.Lookup("conf")
		if !ok {
			continue
		}
		splitTag := strings.Split(tag, ",")

		// check if default value exists
		var defaultValue string
		if len(splitTag) > 1 {
			defaultValue = splitTag[1]
		}

		// get value from env
		value, valueGiven := os.LookupEnv(splitTag[0])
		if !valueGiven {
			value = defaultValue
		}

		// set value in struct
		switch fieldType.Type.Kind() {
		case reflect.String:
			field.SetString(value)
		case reflect.Int:
			field.SetInt(cast.ToInt64(value))
		case reflect.Bool:
			field.SetBool(cast.ToBool(value))

		default:
			return fmt.Errorf("unsupported struct field type %s", fieldType.Type.Kind())
		}
	}
	return nil
}
