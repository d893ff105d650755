// =============================================================================
// 📦 bidflow 配置
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("BIDFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import "time"

// Config 是 bidflow 的完整配置结构
type Config struct {
	// Database 数据库配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Redis 可选共享缓存配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// VectorStore 分层向量存储配置
	VectorStore VectorStoreConfig `yaml:"vector_store" env:"VECTOR_STORE"`

	// Embedding 嵌入模型配置
	Embedding EmbeddingConfig `yaml:"embedding" env:"EMBEDDING"`

	// LLM 大语言模型协作方配置
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Retrieval 混合检索配置
	Retrieval RetrievalConfig `yaml:"retrieval" env:"RETRIEVAL"`

	// Workflow 工作流状态机配置
	Workflow WorkflowConfig `yaml:"workflow" env:"WORKFLOW"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: sqlite, postgres
	Driver string `yaml:"driver" env:"DRIVER"`
	// sqlite 数据文件路径（driver=sqlite 时生效）
	Path string `yaml:"path" env:"PATH"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// RedisConfig Redis 配置。Enabled=false 时降级为直接读库。
type RedisConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 默认过期时间
	DefaultTTL time.Duration `yaml:"default_ttl" env:"DEFAULT_TTL"`
}

// VectorStoreConfig 分层向量存储配置
type VectorStoreConfig struct {
	// 持久化数据目录（tier 1/2）
	DataDir string `yaml:"data_dir" env:"DATA_DIR"`
	// 是否启用按 workflow 分区的持久化后端（tier 1）
	EnablePartitioned bool `yaml:"enable_partitioned" env:"ENABLE_PARTITIONED"`
	// 是否启用单文件 JSON 后端（tier 2）
	EnableFile bool `yaml:"enable_file" env:"ENABLE_FILE"`
	// 是否启用外部索引服务后端（tier 3）
	EnableExternal bool `yaml:"enable_external" env:"ENABLE_EXTERNAL"`
	// 运行期是否允许回探更高优先级后端（保留开关，默认关闭）
	RuntimeFailback bool `yaml:"runtime_failback" env:"RUNTIME_FAILBACK"`
	// Qdrant 外部索引配置
	Qdrant QdrantConfig `yaml:"qdrant" env:"QDRANT"`
}

// QdrantConfig Qdrant 外部索引配置
type QdrantConfig struct {
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// REST 端口
	Port int `yaml:"port" env:"PORT"`
	// API Key（可选）
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 集合名前缀（每个 workflow 一个集合）
	CollectionPrefix string `yaml:"collection_prefix" env:"COLLECTION_PREFIX"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// EmbeddingConfig 嵌入模型配置
type EmbeddingConfig struct {
	// 提供者类型: local, http
	Provider string `yaml:"provider" env:"PROVIDER"`
	// 基础 URL（provider=http 时生效）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 模型名称
	Model string `yaml:"model" env:"MODEL"`
	// 全局约定的嵌入维度
	Dimensions int `yaml:"dimensions" env:"DIMENSIONS"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// LLMConfig LLM 协作方配置
type LLMConfig struct {
	// 基础 URL
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 模型名称
	Model string `yaml:"model" env:"MODEL"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 每秒请求数上限（客户端限流）
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
}

// RetrievalConfig 混合检索配置
type RetrievalConfig struct {
	// 向量侧权重
	VectorWeight float64 `yaml:"vector_weight" env:"VECTOR_WEIGHT"`
	// 图侧权重
	GraphWeight float64 `yaml:"graph_weight" env:"GRAPH_WEIGHT"`
	// 默认返回条数
	Limit int `yaml:"limit" env:"LIMIT"`
	// 分块大小（空白符 token 数）
	ChunkSize int `yaml:"chunk_size" env:"CHUNK_SIZE"`
	// 分块重叠（空白符 token 数）
	ChunkOverlap int `yaml:"chunk_overlap" env:"CHUNK_OVERLAP"`
}

// WorkflowConfig 工作流状态机配置
type WorkflowConfig struct {
	// 自修复扫描间隔
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
	// running 状态无进度更新的过期阈值
	StalenessThreshold time.Duration `yaml:"staleness_threshold" env:"STALENESS_THRESHOLD"`
	// 单步执行超时
	StepTimeout time.Duration `yaml:"step_timeout" env:"STEP_TIMEOUT"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// DefaultConfig 返回带生产默认值的配置
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:          "sqlite",
			Path:            "bidflow.db",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   10,
			DefaultTTL: 5 * time.Minute,
		},
		VectorStore: VectorStoreConfig{
			DataDir:           "data/vectors",
			EnablePartitioned: true,
			EnableFile:        true,
			EnableExternal:    false,
			Qdrant: QdrantConfig{
				Host:             "localhost",
				Port:             6333,
				CollectionPrefix: "bidflow",
				Timeout:          30 * time.Second,
			},
		},
		Embedding: EmbeddingConfig{
			Provider:   "local",
			Dimensions: 384,
			Timeout:    30 * time.Second,
		},
		LLM: LLMConfig{
			Model:             "gpt-4o-mini",
			Timeout:           60 * time.Second,
			RequestsPerSecond: 2,
		},
		Retrieval: RetrievalConfig{
			VectorWeight: 0.6,
			GraphWeight:  0.4,
			Limit:        10,
			ChunkSize:    500,
			ChunkOverlap: 50,
		},
		Workflow: WorkflowConfig{
			SweepInterval:      time.Minute,
			StalenessThreshold: 30 * time.Minute,
			StepTimeout:        10 * time.Minute,
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stdout"},
		},
	}
}
