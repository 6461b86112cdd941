/*
Copyright (C) 2025 [GrainArc]

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published
by the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package Surfclass

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ClassificationRun 分类运行记录
type ClassificationRun struct {
	ID           string `gorm:"primaryKey;size:36"`
	Preset       string
	ModelPath    string
	FeatureCount int
	FeaturePaths string // 以换行分隔
	BBox         string // GeoJSON
	OutputPath   string
	TileSize     int
	Processors   int

	State         string `gorm:"index"`
	WindowXOff    int    `gorm:"column:window_x_off"`
	WindowYOff    int    `gorm:"column:window_y_off"`
	WindowWidth   int    `gorm:"column:window_width"`
	WindowHeight  int    `gorm:"column:window_height"`
	Footprint     string // 窗口实际范围 GeoJSON
	Warning       string
	Tiles         int
	ValidPixels   int
	InvalidPixels int
	Error         string

	StartedAt  time.Time `gorm:"index"`
	FinishedAt *time.Time
}

// RunLedger SQLite 分类运行台账
type RunLedger struct {
	db   *gorm.DB
	path string
}

// OpenRunLedger 打开（或创建）台账数据库
func OpenRunLedger(path string) (*RunLedger, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open run ledger %s: %w", path, err)
	}
	if err := db.AutoMigrate(&ClassificationRun{}); err != nil {
		return nil, fmt.Errorf("failed to migrate run ledger: %w", err)
	}
	return &RunLedger{db: db, path: path}, nil
}

// Path 数据库文件路径
func (l *RunLedger) Path() string { return l.path }

// Begin 写入一条运行中记录
func (l *RunLedger) Begin(run *ClassificationRun) error {
	if run.ID == "" {
		return errors.New("run id is empty")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if err := l.db.Create(run).Error; err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.ID, err)
	}
	return nil
}

// Finish 更新终止状态、窗口范围和统计
func (l *RunLedger) Finish(id string, state State, result *ClassificationResult, runErr error) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"state":       state.String(),
		"finished_at": &now,
	}
	if runErr != nil {
		updates["error"] = runErr.Error()
	}
	if result != nil {
		w := result.Window
		updates["window_x_off"] = w.XOff
		updates["window_y_off"] = w.YOff
		updates["window_width"] = w.Width
		updates["window_height"] = w.Height
		updates["tiles"] = result.Tiles
		updates["valid_pixels"] = result.ValidPixels
		updates["invalid_pixels"] = result.InvalidPixels
		updates["output_path"] = result.OutputPath
		if w.Width > 0 && w.Height > 0 {
			fp, err := boundToGeoJSON(w.Bounds())
			if err != nil {
				return err
			}
			updates["footprint"] = fp
		}
		if result.Warning != nil {
			updates["warning"] = result.Warning.String()
		}
	}
	res := l.db.Model(&ClassificationRun{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update run %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

// Get 按 ID 查询
func (l *RunLedger) Get(id string) (*ClassificationRun, error) {
	var run ClassificationRun
	if err := l.db.First(&run, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", id, err)
	}
	return &run, nil
}

// Recent 按开始时间倒序列出最近的运行
func (l *RunLedger) Recent(limit int) ([]ClassificationRun, error) {
	var runs []ClassificationRun
	q := l.db.Order("started_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// Close 关闭数据库连接
func (l *RunLedger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func boundToGeoJSON(b orb.Bound) (string, error) {
	data, err := geojson.NewGeometry(b.ToPolygon()).MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("failed to encode footprint: %w", err)
	}
	return string(data), nil
}
