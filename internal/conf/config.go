package conf

/*
 Copyright 2019 - 2025 Crunchy Data Solutions, Inc.
 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at
      http://www.apache.org/licenses/LICENSE-2.0
 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

import (
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config is the application configuration, read from file and environment.
type Config struct {
	Server   Server
	Database Database
	Cache    Cache
	Metadata Metadata
	Sources  Sources
}

// Server holds the HTTP server settings.
type Server struct {
	ListenAddresses string
	BasePath        string
	// KeepAlive is the connection keep-alive timeout in seconds
	KeepAlive       int
	WorkerProcesses int
	Debug           bool
}

// Database holds the PostgreSQL connection settings.
type Database struct {
	// Connection is a libpq-style connection string or URL
	Connection    string
	PoolSize      int
	DefaultSrid   int
	TableIncludes []string
	TableExcludes []string
}

// Cache holds the in-memory tile cache settings.
type Cache struct {
	Enabled            bool
	MaxItems           int
	BrowserCacheMaxAge int
}

// Metadata holds descriptive defaults applied to published sources.
type Metadata struct {
	Title       string
	Description string
	Attribution string
}

// Sources holds the user-declared sources, keyed by external source ID.
type Sources struct {
	Tables    map[string]TableSource
	Functions map[string]FunctionSource
}

// TableSource is a user-declared PostGIS table source. Zero values mean
// "not specified"; pointer fields distinguish an explicit zero from absence.
type TableSource struct {
	Schema         string             `mapstructure:"schema"`
	Table          string             `mapstructure:"table"`
	GeometryColumn string             `mapstructure:"geometry_column"`
	Srid           int                `mapstructure:"srid"`
	GeometryType   string             `mapstructure:"geometry_type"`
	IDColumn       string             `mapstructure:"id_column"`
	Extent         *int               `mapstructure:"extent"`
	Buffer         *int               `mapstructure:"buffer"`
	ClipGeom       *bool              `mapstructure:"clip_geom"`
	MinZoom        *int               `mapstructure:"minzoom"`
	MaxZoom        *int               `mapstructure:"maxzoom"`
	Bounds         []float64          `mapstructure:"bounds"`
	Properties     map[string]string  `mapstructure:"properties"`
	Unrecognized   map[string]any     `mapstructure:",remain"`
}

// FunctionSource is a user-declared tile-producing function source.
type FunctionSource struct {
	Schema   string `mapstructure:"schema"`
	Function string `mapstructure:"function"`
	MinZoom  *int   `mapstructure:"minzoom"`
	MaxZoom  *int   `mapstructure:"maxzoom"`
}

// Configuration is the global application configuration.
var Configuration Config

func setDefaultConfig() {
	viper.SetDefault("Server.ListenAddresses", "0.0.0.0:3000")
	viper.SetDefault("Server.BasePath", "")
	viper.SetDefault("Server.KeepAlive", 75)
	viper.SetDefault("Server.WorkerProcesses", 1)
	viper.SetDefault("Server.Debug", false)

	viper.SetDefault("Database.Connection", "")
	viper.SetDefault("Database.PoolSize", 4)
	viper.SetDefault("Database.DefaultSrid", 0)
	viper.SetDefault("Database.TableIncludes", []string{})
	viper.SetDefault("Database.TableExcludes", []string{})

	viper.SetDefault("Cache.Enabled", true)
	viper.SetDefault("Cache.MaxItems", 10000)
	viper.SetDefault("Cache.BrowserCacheMaxAge", 300)

	viper.SetDefault("Metadata.Title", AppConfig.Name)
	viper.SetDefault("Metadata.Description", "")
	viper.SetDefault("Metadata.Attribution", "")
}

// InitConfig reads the configuration file (if any) and the environment
// into the global Configuration.
func InitConfig(configFilename string, isDebug bool) {
	viper.SetEnvPrefix(AppConfig.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaultConfig()

	if configFilename != "" {
		viper.SetConfigFile(configFilename)
		if err := viper.ReadInConfig(); err != nil {
			log.Fatal(err)
		}
		log.Infof("Using config file: %s", viper.ConfigFileUsed())
	} else {
		viper.SetConfigName(AppConfig.Name)
		viper.SetConfigType("toml")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc")
		if err := viper.ReadInConfig(); err == nil {
			log.Infof("Using config file: %s", viper.ConfigFileUsed())
		} else if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Fatal(err)
		}
	}

	if err := viper.Unmarshal(&Configuration); err != nil {
		log.Fatal(err)
	}

	// Environment values for lists arrive as comma-delimited strings,
	// config files supply real arrays
	Configuration.Database.TableIncludes = configStringList("Database.TableIncludes")
	Configuration.Database.TableExcludes = configStringList("Database.TableExcludes")

	if isDebug {
		Configuration.Server.Debug = true
	}
}

// configStringList reads a key that is an array in the config file but a
// comma-delimited string when set from the environment.
func configStringList(key string) []string {
	switch v := viper.Get(key).(type) {
	case string:
		if v == "" {
			return []string{}
		}
		return strings.Split(v, ",")
	default:
		list := viper.GetStringSlice(key)
		if list == nil {
			list = []string{}
		}
		return list
	}
}

// DumpConfig writes the effective configuration to the log.
func DumpConfig() {
	log.Infof("Serve on: %s", Configuration.Server.ListenAddresses)
	log.Infof("Base path: %s", Configuration.Server.BasePath)
	log.Infof("Keep-alive: %ds", Configuration.Server.KeepAlive)
	log.Infof("Worker processes: %d", Configuration.Server.WorkerProcesses)
	log.Infof("Pool size: %d", Configuration.Database.PoolSize)
	if Configuration.Database.DefaultSrid != 0 {
		log.Infof("Default SRID: %d", Configuration.Database.DefaultSrid)
	}
	log.Infof("Tile cache enabled: %t", Configuration.Cache.Enabled)
	log.Infof("Declared table sources: %d", len(Configuration.Sources.Tables))
	log.Infof("Declared function sources: %d", len(Configuration.Sources.Functions))
}
