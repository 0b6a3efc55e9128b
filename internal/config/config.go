package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// AppConfig 汇总运行服务所需的基础配置。
type AppConfig struct {
	ListenAddr        string
	Port              string
	DatabasePath      string
	SessionSecret     string
	GinMode           string
	SuperRootUserName string
	SuperRootPassword string
	SiteBaseURL       string
	Pipeline          PipelineConfig
}

// PipelineConfig 收拢生成流水线里经验性选择的常量。
// 相似度阈值与链接参数依赖具体 embedding 模型，换模型后需要重新标定，
// 因此全部做成配置而不是写死。
type PipelineConfig struct {
	Similarity SimilarityConfig `yaml:"similarity"`
	Linking    LinkingConfig    `yaml:"linking"`
	Writer     WriterConfig     `yaml:"writer"`
}

// SimilarityConfig 控制话题查重的阈值。
type SimilarityConfig struct {
	// SurfaceThreshold 之上的近邻会作为参考信息附在候选话题上。
	SurfaceThreshold float64 `yaml:"surfaceThreshold"`
	// DuplicateThreshold 之上（严格大于）的候选被判定为重复并剔除。
	DuplicateThreshold float64 `yaml:"duplicateThreshold"`
}

// LinkingConfig 控制内链推荐的检索与数量参数。
type LinkingConfig struct {
	MinSimilarity  float64 `yaml:"minSimilarity"`
	WorkingSetSize int     `yaml:"workingSetSize"`
	MaxSuggestions int     `yaml:"maxSuggestions"`
	TargetLinksMin int     `yaml:"targetLinksMin"`
	TargetLinksMax int     `yaml:"targetLinksMax"`
}

// WriterConfig 控制生成与落库节奏。
type WriterConfig struct {
	// SaveIntervalMs 是流式生成时增量落库的最小间隔（毫秒）。
	SaveIntervalMs int `yaml:"saveIntervalMs"`
	// WordsPerMinute 用于估算阅读时长。
	WordsPerMinute int `yaml:"wordsPerMinute"`
}

const pipelineConfigEnv = "PIPELINE_CONFIG"

// Load 从环境变量读取应用配置，并为缺失项提供安全的默认值。
// 若设置了 PIPELINE_CONFIG，会叠加读取 YAML 流水线参数文件。
func Load() AppConfig {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	listenAddr := strings.TrimSpace(os.Getenv("LISTEN_ADDR"))
	if listenAddr == "" {
		listenAddr = fmt.Sprintf(":%s", port)
	}

	databasePath := strings.TrimSpace(os.Getenv("DATABASE_PATH"))
	if databasePath == "" {
		databasePath = "draftflow.db"
	}

	sessionSecret := strings.TrimSpace(os.Getenv("SESSION_SECRET"))
	if sessionSecret == "" {
		sessionSecret = "draftflow-dev-secret"
	}

	ginMode := strings.TrimSpace(os.Getenv("GIN_MODE"))
	if ginMode == "" {
		ginMode = "release"
	}

	siteBaseURL := strings.TrimSpace(os.Getenv("SITE_BASE_URL"))
	if siteBaseURL == "" {
		siteBaseURL = "http://localhost:8080"
	}

	superRootUserName := strings.TrimSpace(os.Getenv("SUPER_ROOT_USER_NAME"))
	superRootPassword := strings.TrimSpace(os.Getenv("SUPER_ROOT_PASSWORD"))

	return AppConfig{
		ListenAddr:        listenAddr,
		Port:              port,
		DatabasePath:      databasePath,
		SessionSecret:     sessionSecret,
		GinMode:           ginMode,
		SuperRootUserName: superRootUserName,
		SuperRootPassword: superRootPassword,
		SiteBaseURL:       siteBaseURL,
		Pipeline:          loadPipeline(),
	}
}

// DefaultPipeline 返回内置的流水线参数。
func DefaultPipeline() PipelineConfig {
	return PipelineConfig{
		Similarity: SimilarityConfig{
			SurfaceThreshold:   0.85,
			DuplicateThreshold: 0.90,
		},
		Linking: LinkingConfig{
			MinSimilarity:  0.70,
			WorkingSetSize: 50,
			MaxSuggestions: 10,
			TargetLinksMin: 3,
			TargetLinksMax: 5,
		},
		Writer: WriterConfig{
			SaveIntervalMs: 500,
			WordsPerMinute: 200,
		},
	}
}

func loadPipeline() PipelineConfig {
	cfg := DefaultPipeline()

	path := strings.TrimSpace(os.Getenv(pipelineConfigEnv))
	if path == "" {
		return cfg
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		return cfg
	}

	var fileCfg PipelineConfig
	if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
		log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
		return cfg
	}

	return mergePipeline(cfg, fileCfg)
}

func mergePipeline(base, override PipelineConfig) PipelineConfig {
	if override.Similarity.SurfaceThreshold > 0 {
		base.Similarity.SurfaceThreshold = override.Similarity.SurfaceThreshold
	}
	if override.Similarity.DuplicateThreshold > 0 {
		base.Similarity.DuplicateThreshold = override.Similarity.DuplicateThreshold
	}
	if override.Linking.MinSimilarity > 0 {
		base.Linking.MinSimilarity = override.Linking.MinSimilarity
	}
	if override.Linking.WorkingSetSize > 0 {
		base.Linking.WorkingSetSize = override.Linking.WorkingSetSize
	}
	if override.Linking.MaxSuggestions > 0 {
		base.Linking.MaxSuggestions = override.Linking.MaxSuggestions
	}
	if override.Linking.TargetLinksMin > 0 {
		base.Linking.TargetLinksMin = override.Linking.TargetLinksMin
	}
	if override.Linking.TargetLinksMax > 0 {
		base.Linking.TargetLinksMax = override.Linking.TargetLinksMax
	}
	if override.Writer.SaveIntervalMs > 0 {
		base.Writer.SaveIntervalMs = override.Writer.SaveIntervalMs
	}
	if override.Writer.WordsPerMinute > 0 {
		base.Writer.WordsPerMinute = override.Writer.WordsPerMinute
	}
	return base
}
