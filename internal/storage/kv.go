package storage

// KVStats contains embedded KV engine statistics.
type KVStats struct {
	// TotalSize is the total disk usage in bytes.
	TotalSize uint64 `json:"total_size"`

	// LSMSize is the LSM tree size.
	LSMSize uint64 `json:"lsm_size"`

	// ValueLogSize is the value log size.
	ValueLogSize uint64 `json:"value_log_size"`

	// LastGCTime is the last GC run timestamp (Unix milliseconds).
	LastGCTime int64 `json:"last_gc_time"`

	// GCRuns is the number of value log files rewritten by GC.
	GCRuns uint64 `json:"gc_runs"`
}

// KVConfig configures an embedded KV backend.
type KVConfig struct {
	// Engine names the KV engine. Only "badger" is supported.
	Engine string

	// Dir is the storage directory.
	Dir string

	Badger BadgerConfig
}

// BadgerConfig contains Badger tuning parameters.
type BadgerConfig struct {
	// GCInterval is the interval between value log GC runs.
	// Default: 10m
	GCInterval string `koanf:"gc_interval"`

	// GCThreshold is the discard ratio a value log file needs before it
	// is rewritten (0.0-1.0).
	// Default: 0.5
	GCThreshold float64 `koanf:"gc_threshold"`

	// CacheSize is the block cache size in bytes.
	// Default: 64MB
	CacheSize int64 `koanf:"cache_size"`

	// ValueLogFileSize is the max value log file size in bytes.
	// Default: 256MB
	ValueLogFileSize int64 `koanf:"value_log_file_size"`

	NumMemtables            int `koanf:"num_memtables"`
	NumLevelZeroTables      int `koanf:"num_level_zero_tables"`
	NumLevelZeroTablesStall int `koanf:"num_level_zero_tables_stall"`

	// SyncWrites fsyncs every write before it is acknowledged.
	// Default: true
	SyncWrites bool `koanf:"sync_writes"`

	// InMemory runs Badger without touching disk. Used by tests.
	InMemory bool `koanf:"-"`
}

// DefaultKVConfig returns the default KV configuration.
func DefaultKVConfig(dir string) KVConfig {
	return KVConfig{
		Engine: BackendBadger,
		Dir:    dir,
		Badger: DefaultBadgerConfig(),
	}
}

// DefaultBadgerConfig returns the default Badger configuration.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		GCInterval:              "10m",
		GCThreshold:             0.5,
		CacheSize:               64 << 20,  // 64MB
		ValueLogFileSize:        256 << 20, // 256MB
		NumMemtables:            2,
		NumLevelZeroTables:      5,
		NumLevelZeroTablesStall: 10,
		SyncWrites:              true,
	}
}

func (c *BadgerConfig) applyDefaults() {
	d := DefaultBadgerConfig()
	if c.GCInterval == "" {
		c.GCInterval = d.GCInterval
	}
	if c.GCThreshold <= 0 || c.GCThreshold >= 1 {
		c.GCThreshold = d.GCThreshold
	}
	if c.CacheSize == 0 {
		c.CacheSize = d.CacheSize
	}
	if c.ValueLogFileSize == 0 {
		c.ValueLogFileSize = d.ValueLogFileSize
	}
	if c.NumMemtables == 0 {
		c.NumMemtables = d.NumMemtables
	}
	if c.NumLevelZeroTables == 0 {
		c.NumLevelZeroTables = d.NumLevelZeroTables
	}
	if c.NumLevelZeroTablesStall == 0 {
		c.NumLevelZeroTablesStall = d.NumLevelZeroTablesStall
	}
}
