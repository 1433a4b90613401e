package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"filewarden/version"

	"github.com/joho/godotenv"
)

type Config struct {
	Mode             string   `json:"mode"`
	StartPath        string   `json:"start_path"`
	Recursive        bool     `json:"recursive"`
	ExcludedDirNames []string `json:"excluded_dir_names"`
	ConcurrencyLevel int      `json:"concurrency_level"`
	NiceLevel        string   `json:"nice_level"`
	LogLevel         string   `json:"log_level"`
	MaxIOPerSecond   int      `json:"max_io_per_second"`
	ConfigFile       string   `json:"config_file"`
	DryRun           bool     `json:"dry_run"`

	HashAlgorithms     []string `json:"hash_algorithms"`
	HashMaxFileSize    int64    `json:"hash_max_file_size"`
	EntropySampleBytes int      `json:"entropy_sample_bytes"`
	CollectDetails     bool     `json:"collect_details"`
	DetailsMaxBytes    int64    `json:"details_max_bytes"`

	QuarantineInfected     bool     `json:"quarantine_infected"`
	QuarantineRoot         string   `json:"quarantine_root"`
	AllowlistFile          string   `json:"allowlist_file"`
	HighRiskExtensions     []string `json:"high_risk_extensions"`
	LowConfidenceThreshold float64  `json:"low_confidence_threshold"`
	HighEntropyThreshold   float64  `json:"high_entropy_threshold"`
	AnomalyThreshold       float64  `json:"anomaly_threshold"`
	ThreatLevelCutoff      float64  `json:"threat_level_cutoff"`
	TinyFileBytes          int64    `json:"tiny_file_bytes"`
	HugeFileBytes          int64    `json:"huge_file_bytes"`
	CloudAlways            bool     `json:"cloud_always"`

	ClamdSocket       string        `json:"clamd_socket"`
	ClamdHost         string        `json:"clamd_host"`
	ClamdPort         int           `json:"clamd_port"`
	ClamdProbeTimeout time.Duration `json:"clamd_probe_timeout"`
	ClamdScanTimeout  time.Duration `json:"clamd_scan_timeout"`

	VirusTotalAPIKey       string        `json:"virustotal_api_key"`
	CloudUploadMaxSize     int64         `json:"cloud_upload_max_size"`
	CloudPollAttempts      int           `json:"cloud_poll_attempts"`
	CloudPollBackoff       time.Duration `json:"cloud_poll_backoff"`
	CloudQueryTimeout      time.Duration `json:"cloud_query_timeout"`
	CloudUploadTimeout     time.Duration `json:"cloud_upload_timeout"`
	CloudRequestsPerMinute int           `json:"cloud_requests_per_minute"`

	FuzzyHash    bool  `json:"fuzzy_hash"`
	FuzzyMinSize int64 `json:"fuzzy_min_size"`
	FuzzyMaxSize int64 `json:"fuzzy_max_size"`

	DestinationBase string  `json:"destination_base"`
	DatedFolders    bool    `json:"dated_folders"`
	UseClassifier   bool    `json:"use_classifier"`
	RuleConfidence  float64 `json:"rule_confidence"`

	DeleteExtensions []string `json:"delete_extensions"`
	OlderThanDays    int      `json:"older_than_days"`
	SizeBelowKB      int      `json:"size_below_kb"`
	Permanent        bool     `json:"permanent"`
	TrashDir         string   `json:"trash_dir"`

	OutputFileName    string            `json:"output_file_name"`
	MaxOutputFileSize int64             `json:"max_output_file_size"`
	ProgressEvery     int               `json:"progress_every"`
	OtelEndpoint      string            `json:"otel_endpoint"`
	OtelHeaders       map[string]string `json:"otel_headers"`
	OtelServiceName   string            `json:"otel_service_name"`
	OtelTimeout       time.Duration     `json:"otel_timeout"`

	ConcurrencySet bool `json:"-"`
}

// DefaultExcludedDirNames lists protected OS directories skipped during walks.
var DefaultExcludedDirNames = []string{
	"System Volume Information",
	"$Recycle.Bin",
	"WinSxS",
	"DriverStore",
}

// DefaultHighRiskExtensions carry extra weight in the anomaly pre-filter.
var DefaultHighRiskExtensions = []string{
	".exe", ".scr", ".bat", ".cmd", ".com", ".pif", ".vbs", ".js",
}

func Defaults() *Config {
	now := time.Now().UTC()
	timestamp := now.Format("20060102-150405")
	cfg := &Config{
		Mode:             "scan",
		StartPath:        ".",
		Recursive:        true,
		ExcludedDirNames: append([]string(nil), DefaultExcludedDirNames...),
		ConcurrencyLevel: runtime.NumCPU(),
		NiceLevel:        "medium",
		LogLevel:         "info",
		MaxIOPerSecond:   1000,

		HashAlgorithms:     []string{"sha256"},
		HashMaxFileSize:    10 * 1024 * 1024,
		EntropySampleBytes: 8192,
		CollectDetails:     false,
		DetailsMaxBytes:    1 * 1024 * 1024,

		QuarantineInfected:     true,
		QuarantineRoot:         "quarantine",
		HighRiskExtensions:     append([]string(nil), DefaultHighRiskExtensions...),
		LowConfidenceThreshold: 0.5,
		HighEntropyThreshold:   7.5,
		AnomalyThreshold:       0.7,
		ThreatLevelCutoff:      0.7,
		TinyFileBytes:          100,
		HugeFileBytes:          100 * 1024 * 1024,
		CloudAlways:            false,

		ClamdSocket:       "/var/run/clamav/clamd.ctl",
		ClamdHost:         "localhost",
		ClamdPort:         3310,
		ClamdProbeTimeout: 5 * time.Second,
		ClamdScanTimeout:  60 * time.Second,

		CloudUploadMaxSize:     32 * 1024 * 1024,
		CloudPollAttempts:      5,
		CloudPollBackoff:       10 * time.Second,
		CloudQueryTimeout:      30 * time.Second,
		CloudUploadTimeout:     60 * time.Second,
		CloudRequestsPerMinute: 4,

		FuzzyHash:    true,
		FuzzyMinSize: 256,
		FuzzyMaxSize: 20 * 1024 * 1024,

		DestinationBase: "organized",
		DatedFolders:    false,
		UseClassifier:   true,
		RuleConfidence:  0.8,

		Permanent: false,
		TrashDir:  "trash",

		OutputFileName:    fmt.Sprintf("filewarden-%s-%d.ndjson", timestamp, now.Unix()),
		MaxOutputFileSize: 100 * 1024 * 1024,
		ProgressEvery:     10,
		OtelHeaders:       map[string]string{},
		OtelServiceName:   "filewarden",
		OtelTimeout:       5 * time.Second,
	}
	return cfg
}

func LoadConfig() (*Config, error) {
	// .env is optional; environment variables win over file defaults.
	_ = godotenv.Load()

	cfg := Defaults()
	cfg.applyEnv()

	mode := flag.String("mode", cfg.Mode, "Operation: scan, organize, or delete (default: scan).")
	startPath := flag.String("path", cfg.StartPath, "Root path to process (default: current directory).")
	recursive := flag.Bool("recursive", cfg.Recursive, fmt.Sprintf("Descend into subdirectories (default: %t).", cfg.Recursive))
	excluded := flag.String("exclude-dirs", "", "Comma-separated directory names to skip anywhere in the tree.")
	concurrency := flag.Int("concurrency", cfg.ConcurrencyLevel, fmt.Sprintf("Worker pool size (default: %d).", cfg.ConcurrencyLevel))
	nice := flag.String("nice", cfg.NiceLevel, fmt.Sprintf("Nice level: high, medium, or low (default: %s).", cfg.NiceLevel))
	logLevel := flag.String("log-level", cfg.LogLevel, fmt.Sprintf("Log level: debug, info, warn, error, fatal, or panic (default: %s).", cfg.LogLevel))
	maxIO := flag.Int("max-io-per-second", cfg.MaxIOPerSecond, fmt.Sprintf("Maximum disk I/O operations per second, 0 for unlimited (default: %d).", cfg.MaxIOPerSecond))
	dryRun := flag.Bool("dry-run", cfg.DryRun, "Report what would happen without touching the filesystem.")
	hashes := flag.String("hashes", strings.Join(cfg.HashAlgorithms, ","), fmt.Sprintf("Comma-separated hash algorithms (default: %s).", strings.Join(cfg.HashAlgorithms, ",")))
	hashMax := flag.Int64("hash-max-file-size", cfg.HashMaxFileSize, fmt.Sprintf("Files at or above this many bytes skip hashing and entropy (default: %d).", cfg.HashMaxFileSize))
	entropyBytes := flag.Int("entropy-sample-bytes", cfg.EntropySampleBytes, fmt.Sprintf("Prefix length in bytes for entropy sampling (default: %d).", cfg.EntropySampleBytes))
	collectDetails := flag.Bool("collect-details", cfg.CollectDetails, fmt.Sprintf("Extract type-specific metadata (EXIF, PDF info) into scan records (default: %t).", cfg.CollectDetails))
	quarantineInfected := flag.Bool("quarantine", cfg.QuarantineInfected, fmt.Sprintf("Quarantine infected files during scans (default: %t).", cfg.QuarantineInfected))
	quarantineRoot := flag.String("quarantine-root", cfg.QuarantineRoot, fmt.Sprintf("Quarantine store directory (default: %s).", cfg.QuarantineRoot))
	allowlistFile := flag.String("allowlist", cfg.AllowlistFile, "File of known-good SHA-256 hashes, one per line (default: none).")
	anomalyThreshold := flag.Float64("anomaly-threshold", cfg.AnomalyThreshold, fmt.Sprintf("Anomaly score above which a file is flagged (default: %.1f).", cfg.AnomalyThreshold))
	cloudAlways := flag.Bool("cloud-always", cfg.CloudAlways, "Consult the cloud service for every file, not only anomalous ones (default: false).")
	clamdSocket := flag.String("clamd-socket", cfg.ClamdSocket, fmt.Sprintf("Unix socket path of the local clamd daemon (default: %s).", cfg.ClamdSocket))
	clamdHost := flag.String("clamd-host", cfg.ClamdHost, fmt.Sprintf("TCP host of the local clamd daemon (default: %s).", cfg.ClamdHost))
	clamdPort := flag.Int("clamd-port", cfg.ClamdPort, fmt.Sprintf("TCP port of the local clamd daemon (default: %d).", cfg.ClamdPort))
	vtKey := flag.String("virustotal-key", "", "VirusTotal API key (default: VIRUSTOTAL_API_KEY environment variable).")
	fuzzyHash := flag.Bool("fuzzy-hash", cfg.FuzzyHash, fmt.Sprintf("Compute TLSH similarity hashes for flagged files (default: %t).", cfg.FuzzyHash))
	destBase := flag.String("destination", cfg.DestinationBase, fmt.Sprintf("Destination base directory for organization (default: %s).", cfg.DestinationBase))
	datedFolders := flag.Bool("dated-folders", cfg.DatedFolders, "Group organized files into year-month folders (default: false).")
	useClassifier := flag.Bool("use-classifier", cfg.UseClassifier, fmt.Sprintf("Prefer the learned classifier when available (default: %t).", cfg.UseClassifier))
	deleteExts := flag.String("delete-extensions", "", "Comma-separated extensions selecting files for deletion.")
	olderThan := flag.Int("older-than-days", cfg.OlderThanDays, "Select files not modified within this many days (0 disables).")
	sizeBelow := flag.Int("size-below-kb", cfg.SizeBelowKB, "Select files strictly smaller than this many KiB (0 disables).")
	permanent := flag.Bool("permanent", cfg.Permanent, "Unlink deleted files instead of moving them to trash (default: false).")
	trashDir := flag.String("trash-dir", cfg.TrashDir, fmt.Sprintf("Trash directory for non-permanent deletion (default: %s).", cfg.TrashDir))
	output := flag.String("output", cfg.OutputFileName, "Output file name (default: filewarden-<timestamp>-<unix>.ndjson).")
	maxOutputSize := flag.Int64("max-output-file-size", cfg.MaxOutputFileSize, fmt.Sprintf("Maximum output file size before rotation in bytes (default: %d).", cfg.MaxOutputFileSize))
	progressEvery := flag.Int("progress-every", cfg.ProgressEvery, fmt.Sprintf("Files between progress reports during long enumerations (default: %d).", cfg.ProgressEvery))
	otelEndpoint := flag.String("otel-endpoint", cfg.OtelEndpoint, "OTLP/HTTP logs endpoint (default: none).")
	otelServiceName := flag.String("otel-service-name", cfg.OtelServiceName, fmt.Sprintf("OTEL service name for export (default: %s).", cfg.OtelServiceName))
	configFile := flag.String("config", "", "Path to JSON configuration file (default: none).")
	showVersion := flag.Bool("version", false, "Print version and exit")

	flag.Usage = displayHelp
	flag.Parse()

	if *showVersion {
		fmt.Printf("filewarden version %s\n", version.Version)
		os.Exit(0)
	}

	if *configFile != "" {
		cfg.ConfigFile = *configFile
		if err := cfg.loadFromFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			cfg.Mode = strings.ToLower(strings.TrimSpace(*mode))
		case "path":
			cfg.StartPath = *startPath
		case "recursive":
			cfg.Recursive = *recursive
		case "exclude-dirs":
			cfg.ExcludedDirNames = parseCommaSeparated(*excluded)
		case "concurrency":
			cfg.ConcurrencyLevel = *concurrency
			cfg.ConcurrencySet = true
		case "nice":
			cfg.NiceLevel = *nice
		case "log-level":
			cfg.LogLevel = *logLevel
		case "max-io-per-second":
			cfg.MaxIOPerSecond = *maxIO
		case "dry-run":
			cfg.DryRun = *dryRun
		case "hashes":
			cfg.HashAlgorithms = parseCommaSeparated(*hashes)
		case "hash-max-file-size":
			cfg.HashMaxFileSize = *hashMax
		case "entropy-sample-bytes":
			cfg.EntropySampleBytes = *entropyBytes
		case "collect-details":
			cfg.CollectDetails = *collectDetails
		case "quarantine":
			cfg.QuarantineInfected = *quarantineInfected
		case "quarantine-root":
			cfg.QuarantineRoot = *quarantineRoot
		case "allowlist":
			cfg.AllowlistFile = *allowlistFile
		case "anomaly-threshold":
			cfg.AnomalyThreshold = *anomalyThreshold
		case "cloud-always":
			cfg.CloudAlways = *cloudAlways
		case "clamd-socket":
			cfg.ClamdSocket = *clamdSocket
		case "clamd-host":
			cfg.ClamdHost = *clamdHost
		case "clamd-port":
			cfg.ClamdPort = *clamdPort
		case "virustotal-key":
			cfg.VirusTotalAPIKey = strings.TrimSpace(*vtKey)
		case "fuzzy-hash":
			cfg.FuzzyHash = *fuzzyHash
		case "destination":
			cfg.DestinationBase = *destBase
		case "dated-folders":
			cfg.DatedFolders = *datedFolders
		case "use-classifier":
			cfg.UseClassifier = *useClassifier
		case "delete-extensions":
			cfg.DeleteExtensions = parseCommaSeparated(*deleteExts)
		case "older-than-days":
			cfg.OlderThanDays = *olderThan
		case "size-below-kb":
			cfg.SizeBelowKB = *sizeBelow
		case "permanent":
			cfg.Permanent = *permanent
		case "trash-dir":
			cfg.TrashDir = *trashDir
		case "output":
			cfg.OutputFileName = *output
		case "max-output-file-size":
			cfg.MaxOutputFileSize = *maxOutputSize
		case "progress-every":
			cfg.ProgressEvery = *progressEvery
		case "otel-endpoint":
			cfg.OtelEndpoint = strings.TrimSpace(*otelEndpoint)
		case "otel-service-name":
			cfg.OtelServiceName = strings.TrimSpace(*otelServiceName)
		}
	})

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv() {
	if v := os.Getenv("VIRUSTOTAL_API_KEY"); v != "" {
		cfg.VirusTotalAPIKey = v
	}
	if v := os.Getenv("CLAMD_SOCKET"); v != "" {
		cfg.ClamdSocket = v
	}
	if v := os.Getenv("CLAMD_HOST"); v != "" {
		cfg.ClamdHost = v
	}
	if v := os.Getenv("CLAMD_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.ClamdPort = port
		}
	}
}

func (cfg *Config) normalize() {
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	cfg.NiceLevel = strings.ToLower(strings.TrimSpace(cfg.NiceLevel))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.HashAlgorithms = normalizeAlgorithms(cfg.HashAlgorithms)
	if !containsString(cfg.HashAlgorithms, "sha256") {
		cfg.HashAlgorithms = append(cfg.HashAlgorithms, "sha256")
	}
	cfg.DeleteExtensions = normalizeExtensions(cfg.DeleteExtensions)
	cfg.HighRiskExtensions = normalizeExtensions(cfg.HighRiskExtensions)
	if cfg.FuzzyMaxSize > 0 && cfg.FuzzyMaxSize < cfg.FuzzyMinSize {
		cfg.FuzzyMaxSize = cfg.FuzzyMinSize
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = 10
	}
	if cfg.StartPath == "" {
		cfg.StartPath = "."
	}
}

func displayHelp() {
	fmt.Println("filewarden - file intelligence and threat scanning pipeline")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  filewarden [options]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  filewarden --mode scan --path /home/user/Downloads")
	fmt.Println("  filewarden --mode organize --path ~/Downloads --destination ~/Sorted --dated-folders")
	fmt.Println("  filewarden --mode delete --path /tmp --delete-extensions .tmp,.bak --dry-run")
}

func (cfg *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("could not read config file: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid config file format: %v", err)
	}
	if _, ok := raw["concurrency_level"]; ok {
		cfg.ConcurrencySet = true
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("invalid config file format: %v", err)
	}
	return nil
}

// Validate checks cross-field consistency. It is exported so engines handed a
// hand-built Config in tests can apply the same rules.
func (cfg *Config) Validate() error {
	if cfg.Mode != "scan" && cfg.Mode != "organize" && cfg.Mode != "delete" {
		return fmt.Errorf("invalid mode: %s (must be scan, organize, or delete)", cfg.Mode)
	}
	if cfg.ConcurrencyLevel <= 0 {
		return fmt.Errorf("concurrency level must be positive")
	}
	if cfg.NiceLevel != "high" && cfg.NiceLevel != "medium" && cfg.NiceLevel != "low" {
		return fmt.Errorf("invalid nice level: %s", cfg.NiceLevel)
	}
	if cfg.LogLevel != "debug" && cfg.LogLevel != "info" && cfg.LogLevel != "warn" &&
		cfg.LogLevel != "error" && cfg.LogLevel != "fatal" && cfg.LogLevel != "panic" {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if cfg.MaxIOPerSecond < 0 {
		return fmt.Errorf("max-io-per-second must be zero or positive")
	}
	if cfg.HashMaxFileSize < 0 {
		return fmt.Errorf("hash-max-file-size must be zero or positive")
	}
	if cfg.EntropySampleBytes <= 0 {
		return fmt.Errorf("entropy-sample-bytes must be positive")
	}
	if cfg.AnomalyThreshold <= 0 || cfg.AnomalyThreshold > 1 {
		return fmt.Errorf("anomaly-threshold must be in (0, 1]")
	}
	if cfg.LowConfidenceThreshold < 0 || cfg.LowConfidenceThreshold > 1 {
		return fmt.Errorf("low-confidence-threshold must be in [0, 1]")
	}
	if cfg.ThreatLevelCutoff < 0 || cfg.ThreatLevelCutoff > 1 {
		return fmt.Errorf("threat-level-cutoff must be in [0, 1]")
	}
	if cfg.HighEntropyThreshold < 0 || cfg.HighEntropyThreshold > 8 {
		return fmt.Errorf("high-entropy-threshold must be in [0, 8]")
	}
	if cfg.Mode == "scan" && cfg.QuarantineInfected && cfg.QuarantineRoot == "" {
		return fmt.Errorf("quarantine-root must be set when quarantine is enabled")
	}
	if cfg.Mode == "organize" && cfg.DestinationBase == "" {
		return fmt.Errorf("destination must be set for organization")
	}
	if cfg.Mode == "delete" && !cfg.Permanent && cfg.TrashDir == "" {
		return fmt.Errorf("trash-dir must be set for non-permanent deletion")
	}
	if cfg.Mode == "delete" && len(cfg.DeleteExtensions) == 0 && cfg.OlderThanDays <= 0 && cfg.SizeBelowKB <= 0 {
		return fmt.Errorf("at least one deletion rule (extensions, age, or size) must be specified")
	}
	if cfg.CloudPollAttempts < 0 {
		return fmt.Errorf("cloud-poll-attempts must be zero or positive")
	}
	if cfg.CloudUploadMaxSize < 0 {
		return fmt.Errorf("cloud-upload-max-size must be zero or positive")
	}
	if cfg.FuzzyMinSize < 0 || cfg.FuzzyMaxSize < 0 {
		return fmt.Errorf("fuzzy size limits must be zero or positive")
	}
	if cfg.OtelEndpoint != "" &&
		!strings.HasPrefix(cfg.OtelEndpoint, "http://") && !strings.HasPrefix(cfg.OtelEndpoint, "https://") {
		return fmt.Errorf("otel-endpoint must include scheme (http or https)")
	}
	return nil
}

func parseCommaSeparated(input string) []string {
	if input == "" {
		return []string{}
	}
	items := strings.Split(input, ",")
	out := items[:0]
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func normalizeAlgorithms(items []string) []string {
	normalized := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.ToLower(strings.TrimSpace(item))
		if item == "" {
			continue
		}
		normalized = append(normalized, item)
	}
	return normalized
}

func normalizeExtensions(items []string) []string {
	normalized := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.ToLower(strings.TrimSpace(item))
		if item == "" {
			continue
		}
		if !strings.HasPrefix(item, ".") {
			item = "." + item
		}
		normalized = append(normalized, item)
	}
	return normalized
}

func containsString(items []string, value string) bool {
	for _, item := range items {
		if item == value {
			return true
		}
	}
	return false
}
