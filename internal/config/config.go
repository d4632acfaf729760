// 包 config：集中读取环境变量并给出默认值；入口与命令行工具共用同一份配置结构
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config：服务运行参数
type Config struct {
	Addr    string
	APIBase string
	UIDist  string

	// 数据集来源：本地目录、页面地址（用于推导候选 URL）、额外的显式 URL 前缀
	DataDir     string
	DataPageURL string
	DataURLs    []string

	SpatialEnabled bool
	SessionTTL     time.Duration
	FetchTimeout   time.Duration

	RedisEnabled  bool
	FetchCacheTTL time.Duration

	// 每日刷新缓存的整点（IST）；负数关闭
	CacheRefreshHour int

	PGDatasets bool

	RateLimitEnabled bool
	RateLimitQPS     int
	CORSOrigins      []string

	// 源站白名单：部署在 CDN 之后时只放行回源网段
	OriginDefense      bool
	OriginAllowIPs     []string
	OriginAllowCIDRs   []string
	OriginAllowLocal   bool
	OriginRealIPHeader string

	// TLS：启用时证书缺失则自动生成自签名证书
	TLSEnabled      bool
	TLSCertPath     string
	TLSKeyPath      string
	TLSRedirectAddr string
}

// Load：从环境变量构建配置
// 约束：解析失败的数值项静默回退到默认值，不阻断启动
func Load() Config {
	c := Config{
		Addr:               getEnv("ADDR", ":8080"),
		APIBase:            getEnv("API_BASE", "/api"),
		UIDist:             getEnv("UI_DIST", filepath.Join("ui", "dist")),
		DataDir:            getEnv("DATA_DIR", "data"),
		DataPageURL:        os.Getenv("DATA_PAGE_URL"),
		DataURLs:           splitList(os.Getenv("DATA_URLS")),
		SpatialEnabled:     getBool("SPATIAL_ENABLED", true),
		SessionTTL:         getDuration("SESSION_TTL", 30*time.Minute),
		FetchTimeout:       getDuration("FETCH_TIMEOUT", 0),
		RedisEnabled:       getBool("REDIS_ENABLED", false),
		FetchCacheTTL:      getDuration("FETCH_CACHE_TTL", 24*time.Hour),
		CacheRefreshHour:   getInt("CACHE_REFRESH_HOUR", 3),
		PGDatasets:         getBool("PG_DATASETS", false),
		RateLimitEnabled:   getBool("RATE_LIMIT_ENABLED", false),
		RateLimitQPS:       getInt("RATE_LIMIT_QPS", 50),
		CORSOrigins:        splitList(os.Getenv("CORS_ORIGINS")),
		OriginDefense:      getBool("ORIGIN_DEFENSE_ENABLE", false),
		OriginAllowIPs:     splitList(os.Getenv("ORIGIN_ALLOW_IPS")),
		OriginAllowCIDRs:   splitList(os.Getenv("ORIGIN_ALLOW_CIDRS")),
		OriginAllowLocal:   getBool("ORIGIN_ALLOW_LOCAL", false),
		OriginRealIPHeader: os.Getenv("ORIGIN_REAL_IP_HEADER"),
		TLSEnabled:         getBool("TLS_ENABLE", false),
		TLSCertPath:        getEnv("TLS_CERT_PATH", filepath.Join("data", "certs", "server.crt")),
		TLSKeyPath:         getEnv("TLS_KEY_PATH", filepath.Join("data", "certs", "server.key")),
		TLSRedirectAddr:    os.Getenv("TLS_REDIRECT_ADDR"),
	}
	if !strings.HasPrefix(c.APIBase, "/") {
		c.APIBase = "/" + c.APIBase
	}
	c.APIBase = strings.TrimSuffix(c.APIBase, "/")
	if c.CacheRefreshHour > 23 {
		c.CacheRefreshHour = -1
	}
	if c.RateLimitQPS <= 0 {
		c.RateLimitQPS = 50
	}
	return c
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// getDuration：支持 "30m" 形式，也接受纯数字（按秒）
func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 0 {
		return time.Duration(n) * time.Second
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
