package models

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InitDB 打开 MySQL 连接并自动建表
func InitDB(dsn string) (*gorm.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn: db,
	}), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("gorm init: %w", err)
	}

	if err := gormDB.AutoMigrate(&Project{}, &Scene{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return gormDB, nil
}

// Repository persists store snapshots. Jobs are never written.
type Repository struct {
	DB *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{DB: db}
}

// SaveProject upserts the whole project row.
func (r *Repository) SaveProject(ctx context.Context, p Project) error {
	return r.DB.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&p).Error
}

// SaveScene upserts the whole scene row.
func (r *Repository) SaveScene(ctx context.Context, s Scene) error {
	return r.DB.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&s).Error
}

// LoadProjects reads every project with its scenes ordered by sequence.
func (r *Repository) LoadProjects(ctx context.Context) ([]Project, []Scene, error) {
	var projects []Project
	if err := r.DB.WithContext(ctx).Find(&projects).Error; err != nil {
		return nil, nil, fmt.Errorf("load projects: %w", err)
	}
	var scenes []Scene
	if err := r.DB.WithContext(ctx).Order("project_id, sequence ASC").Find(&scenes).Error; err != nil {
		return nil, nil, fmt.Errorf("load scenes: %w", err)
	}
	return projects, scenes, nil
}
