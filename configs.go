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
	"strings"

	"github.com/spf13/viper"
)

// Config 运行配置。优先级：命令行参数 > 环境变量 SURFCLASS_* > 配置文件 > 默认值
type Config struct {
	LogLevel    string      `mapstructure:"log_level"`
	TileSize    int         `mapstructure:"tile_size"`
	Processors  int         `mapstructure:"processors"`
	NoData      float64     `mapstructure:"nodata"`
	DataType    string      `mapstructure:"data_type"`
	Ledger      string      `mapstructure:"ledger"`
	MetricsFile string      `mapstructure:"metrics_file"`
	Train       TrainConfig `mapstructure:"train"`
}

// TrainConfig 训练默认参数
type TrainConfig struct {
	Trees          int   `mapstructure:"trees"`
	Processors     int   `mapstructure:"processors"`
	Seed           int64 `mapstructure:"seed"`
	MaxDepth       int   `mapstructure:"max_depth"`
	MinSamplesLeaf int   `mapstructure:"min_samples_leaf"`
}

// DefaultConfigPath 用户配置目录下的 Surfclass/config.yaml
func DefaultConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("无法获取用户配置目录: %w", err)
	}
	return filepath.Join(configDir, "Surfclass", "config.yaml"), nil
}

// NewViper 创建带默认值与环境变量绑定的 viper 实例
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("log_level", "info")
	v.SetDefault("tile_size", DefaultTileSize)
	v.SetDefault("processors", 1)
	v.SetDefault("nodata", 0.0)
	v.SetDefault("data_type", "Byte")
	v.SetDefault("ledger", "")
	v.SetDefault("metrics_file", "")
	v.SetDefault("train.trees", 100)
	v.SetDefault("train.processors", -1)
	v.SetDefault("train.seed", 0)
	v.SetDefault("train.max_depth", 0)
	v.SetDefault("train.min_samples_leaf", 1)

	v.SetEnvPrefix("SURFCLASS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig 读取配置。path 为空时使用默认路径，默认文件不存在不算错误
func LoadConfig(v *viper.Viper, path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		p, err := DefaultConfigPath()
		if err == nil {
			path = p
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			switch {
			case explicit:
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			case errors.As(err, &notFound), errors.Is(err, os.ErrNotExist):
				log().Debugf("no config file at %s, using defaults", path)
			default:
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else {
			log().Debugf("using config file %s", v.ConfigFileUsed())
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.TileSize <= 0 {
		return nil, fmt.Errorf("tile_size must be positive, got %d", cfg.TileSize)
	}
	if _, err := ParseDataType(cfg.DataType); err != nil {
		return nil, err
	}
	return &cfg, nil
}
