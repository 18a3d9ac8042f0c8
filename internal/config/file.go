package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the walvault.yaml shape. Zero values leave the
// corresponding Config field untouched.
type fileConfig struct {
	Root    string `yaml:"root"`
	Catalog string `yaml:"catalog"`
	Spool   string `yaml:"spool"`
	BinDir  string `yaml:"binDir"`

	Connection struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Database string `yaml:"database"`
	} `yaml:"connection"`

	Backup struct {
		WALMethod        string `yaml:"walMethod"`
		Keep             int    `yaml:"keep"`
		Compression      string `yaml:"compression"`
		CompressionLevel int    `yaml:"compressionLevel"`
		HooksDir         string `yaml:"hooksDir"`
	} `yaml:"backup"`

	Recovery struct {
		ReplayTimeout string `yaml:"replayTimeout"`
		PollInterval  string `yaml:"pollInterval"`
		TargetAction  string `yaml:"targetAction"`
	} `yaml:"recovery"`

	Archiving struct {
		PollInterval    string `yaml:"pollInterval"`
		StabilityWindow string `yaml:"stabilityWindow"`
	} `yaml:"archiving"`

	Cloud struct {
		Enabled   bool   `yaml:"enabled"`
		Provider  string `yaml:"provider"`
		Bucket    string `yaml:"bucket"`
		Region    string `yaml:"region"`
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"accessKey"`
		SecretKey string `yaml:"secretKey"`
		Prefix    string `yaml:"prefix"`
		Bandwidth string `yaml:"bandwidth"`
		SFTPHost  string `yaml:"sftpHost"`
		SFTPPort  int    `yaml:"sftpPort"`
		SFTPUser  string `yaml:"sftpUser"`
		SFTPKey   string `yaml:"sftpKey"`
		SFTPDir   string `yaml:"sftpDir"`
	} `yaml:"cloud"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		File   string `yaml:"file"`
	} `yaml:"logging"`

	MetricsFile string `yaml:"metricsFile"`
}

// LoadFile overlays settings from a YAML file onto the Config.
// A missing file is not an error when explicit is false.
func (c *Config) LoadFile(path string, explicit bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	setString(&c.Root, fc.Root)
	setString(&c.CatalogPath, fc.Catalog)
	setString(&c.SpoolDir, fc.Spool)
	setString(&c.BinDir, fc.BinDir)

	setString(&c.Host, fc.Connection.Host)
	setInt(&c.Port, fc.Connection.Port)
	setString(&c.User, fc.Connection.User)
	setString(&c.Database, fc.Connection.Database)

	setString(&c.WALMethod, fc.Backup.WALMethod)
	setInt(&c.KeepCount, fc.Backup.Keep)
	setString(&c.Compression, fc.Backup.Compression)
	setInt(&c.CompressionLevel, fc.Backup.CompressionLevel)
	setString(&c.HooksDir, fc.Backup.HooksDir)

	if err := setDuration(&c.ReplayTimeout, fc.Recovery.ReplayTimeout); err != nil {
		return fmt.Errorf("recovery.replayTimeout: %w", err)
	}
	if err := setDuration(&c.PollInterval, fc.Recovery.PollInterval); err != nil {
		return fmt.Errorf("recovery.pollInterval: %w", err)
	}
	setString(&c.TargetAction, fc.Recovery.TargetAction)

	if err := setDuration(&c.SpoolPollInterval, fc.Archiving.PollInterval); err != nil {
		return fmt.Errorf("archiving.pollInterval: %w", err)
	}
	if err := setDuration(&c.SpoolStabilityWindow, fc.Archiving.StabilityWindow); err != nil {
		return fmt.Errorf("archiving.stabilityWindow: %w", err)
	}

	if fc.Cloud.Enabled {
		c.CloudEnabled = true
	}
	setString(&c.CloudProvider, fc.Cloud.Provider)
	setString(&c.CloudBucket, fc.Cloud.Bucket)
	setString(&c.CloudRegion, fc.Cloud.Region)
	setString(&c.CloudEndpoint, fc.Cloud.Endpoint)
	setString(&c.CloudAccessKey, fc.Cloud.AccessKey)
	setString(&c.CloudSecretKey, fc.Cloud.SecretKey)
	setString(&c.CloudPrefix, fc.Cloud.Prefix)
	setString(&c.CloudBandwidth, fc.Cloud.Bandwidth)
	setString(&c.SFTPHost, fc.Cloud.SFTPHost)
	setInt(&c.SFTPPort, fc.Cloud.SFTPPort)
	setString(&c.SFTPUser, fc.Cloud.SFTPUser)
	setString(&c.SFTPKeyFile, fc.Cloud.SFTPKey)
	setString(&c.SFTPDir, fc.Cloud.SFTPDir)

	setString(&c.LogLevel, fc.Logging.Level)
	setString(&c.LogFormat, fc.Logging.Format)
	setString(&c.LogFile, fc.Logging.File)

	setString(&c.MetricsFile, fc.MetricsFile)

	return nil
}

// SaveFile writes the current settings as a walvault.yaml
func (c *Config) SaveFile(path string) error {
	var fc fileConfig
	fc.Root = c.Root
	fc.Catalog = c.CatalogPath
	fc.Spool = c.SpoolDir
	fc.BinDir = c.BinDir
	fc.Connection.Host = c.Host
	fc.Connection.Port = c.Port
	fc.Connection.User = c.User
	fc.Connection.Database = c.Database
	fc.Backup.WALMethod = c.WALMethod
	fc.Backup.Keep = c.KeepCount
	fc.Backup.Compression = c.Compression
	fc.Backup.CompressionLevel = c.CompressionLevel
	fc.Backup.HooksDir = c.HooksDir
	fc.Recovery.ReplayTimeout = c.ReplayTimeout.String()
	fc.Recovery.PollInterval = c.PollInterval.String()
	fc.Recovery.TargetAction = c.TargetAction
	fc.Archiving.PollInterval = c.SpoolPollInterval.String()
	fc.Archiving.StabilityWindow = c.SpoolStabilityWindow.String()
	fc.Cloud.Enabled = c.CloudEnabled
	fc.Cloud.Provider = c.CloudProvider
	fc.Cloud.Bucket = c.CloudBucket
	fc.Cloud.Region = c.CloudRegion
	fc.Cloud.Endpoint = c.CloudEndpoint
	fc.Cloud.Prefix = c.CloudPrefix
	fc.Cloud.Bandwidth = c.CloudBandwidth
	fc.Cloud.SFTPHost = c.SFTPHost
	fc.Cloud.SFTPPort = c.SFTPPort
	fc.Cloud.SFTPUser = c.SFTPUser
	fc.Cloud.SFTPKey = c.SFTPKeyFile
	fc.Cloud.SFTPDir = c.SFTPDir
	fc.Logging.Level = c.LogLevel
	fc.Logging.Format = c.LogFormat
	fc.Logging.File = c.LogFile
	fc.MetricsFile = c.MetricsFile

	data, err := yaml.Marshal(&fc)
	if err != nil {
		return fmt.Errorf("rendering config: %w", err)
	}

	// Credentials stay out of the file; 0600 guards the rest
	return os.WriteFile(path, data, 0600)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}
