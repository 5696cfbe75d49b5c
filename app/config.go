package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/56quarters/donut/models"
	"github.com/56quarters/donut/resolver"
	"github.com/56quarters/donut/system"
	"gopkg.in/yaml.v3"
)

const defaultDnsPort = "53"

type AppConfig struct {
	BindAddress string `json:"bind_address" yaml:"bind_address"`
	HttpPort    int    `json:"http_port" yaml:"http_port"`
	// host, host:port, or an https URL when the transport is https
	Upstream          string `json:"upstream" yaml:"upstream"`
	UpstreamTransport string `json:"upstream_transport" yaml:"upstream_transport"`
	// "", "4" or "6"
	UpstreamIpVersion string `json:"upstream_ip_version" yaml:"upstream_ip_version"`
	UpstreamTimeoutMs int    `json:"upstream_timeout_ms" yaml:"upstream_timeout_ms"`
	RequestTimeoutMs  int    `json:"request_timeout_ms" yaml:"request_timeout_ms"`
	// Largest DNS message accepted from a client
	MaxMessageSize int  `json:"max_message_size" yaml:"max_message_size"`
	UdpSize        int  `json:"udp_size" yaml:"udp_size"`
	TcpReuse       bool `json:"tcp_reuse" yaml:"tcp_reuse"`
	TcpPoolSize    int  `json:"tcp_pool_size" yaml:"tcp_pool_size"`
	// 0 means unlimited
	MaxInflight int64 `json:"max_inflight" yaml:"max_inflight"`
	// 0 means unlimited
	UpstreamQps        float64 `json:"upstream_qps" yaml:"upstream_qps"`
	RespectResolveConf bool    `json:"respect_resolvconf" yaml:"respect_resolvconf"`
	ResolvConfPath     string  `json:"resolvconf_path" yaml:"resolvconf_path"`
	LogLevel           int     `json:"log_level" yaml:"log_level"`
	// "text" or "json"
	LogFormat      string `json:"log_format" yaml:"log_format"`
	DisableMetrics bool   `json:"disable_metrics" yaml:"disable_metrics"`
	MetricsPort    int    `json:"metrics_port" yaml:"metrics_port"`
}

func GetDefaultConfig() AppConfig {
	return AppConfig{
		BindAddress:        "127.0.0.1",
		HttpPort:           3000,
		Upstream:           "127.0.0.1:53",
		UpstreamTransport:  resolver.TransportUdp,
		UpstreamIpVersion:  "",
		UpstreamTimeoutMs:  1000,
		RequestTimeoutMs:   2000,
		MaxMessageSize:     512,
		UdpSize:            resolver.DefaultUdpSize,
		TcpReuse:           true,
		TcpPoolSize:        16,
		MaxInflight:        1024,
		UpstreamQps:        0,
		RespectResolveConf: false,
		ResolvConfPath:     "/etc/resolv.conf",
		LogLevel:           int(slog.LevelInfo),
		LogFormat:          "text",
		DisableMetrics:     true,
		MetricsPort:        2112,
	}
}

func (cfg AppConfig) HttpAddress() string {
	return net.JoinHostPort(cfg.BindAddress, strconv.Itoa(cfg.HttpPort))
}

func (cfg AppConfig) MetricsAddress() string {
	return net.JoinHostPort(cfg.BindAddress, strconv.Itoa(cfg.MetricsPort))
}

func (cfg AppConfig) RequestTimeout() time.Duration {
	return time.Duration(cfg.RequestTimeoutMs) * time.Millisecond
}

// UpstreamTarget validates the upstream settings and returns the target
// every query is sent to.
func (cfg AppConfig) UpstreamTarget() (resolver.UpstreamTarget, error) {
	target := resolver.UpstreamTarget{
		Transport:   cfg.UpstreamTransport,
		IpVersion:   cfg.UpstreamIpVersion,
		UdpSize:     cfg.UdpSize,
		Timeout:     time.Duration(cfg.UpstreamTimeoutMs) * time.Millisecond,
		TcpReuse:    cfg.TcpReuse,
		TcpPoolSize: cfg.TcpPoolSize,
		MaxInflight: cfg.MaxInflight,
		Qps:         cfg.UpstreamQps,
	}

	switch cfg.UpstreamIpVersion {
	case "", "4", "6":
	default:
		return target, fmt.Errorf("upstream_ip_version must be empty, 4 or 6, got '%s'", cfg.UpstreamIpVersion)
	}

	if cfg.UpstreamTimeoutMs <= 0 {
		return target, fmt.Errorf("upstream_timeout_ms must be positive, got %d", cfg.UpstreamTimeoutMs)
	}

	if cfg.UdpSize < 512 || cfg.UdpSize > models.MaxMessageSize {
		return target, fmt.Errorf("udp_size must be between 512 and %d, got %d", models.MaxMessageSize, cfg.UdpSize)
	}

	if cfg.TcpPoolSize < 0 || cfg.MaxInflight < 0 || cfg.UpstreamQps < 0 {
		return target, fmt.Errorf("tcp_pool_size, max_inflight and upstream_qps cannot be negative")
	}

	upstream := cfg.Upstream
	if upstream == "" && cfg.RespectResolveConf {
		resolvConf, err := system.NewResolvConfFromPath(cfg.ResolvConfPath)
		if err != nil {
			return target, fmt.Errorf("failed to read resolvconf: %w", err)
		}

		upstream, err = resolvConf.FirstUpstream(defaultDnsPort)
		if err != nil {
			return target, err
		}
	}

	if upstream == "" {
		return target, fmt.Errorf("no upstream configured")
	}

	switch cfg.UpstreamTransport {
	case resolver.TransportUdp, resolver.TransportTcp:
		address, err := withDefaultPort(upstream)
		if err != nil {
			return target, err
		}
		target.Address = address
	case resolver.TransportHttps:
		endpoint, err := url.Parse(upstream)
		if err != nil || endpoint.Host == "" || (endpoint.Scheme != "https" && endpoint.Scheme != "http") {
			return target, fmt.Errorf("https upstream must be an http(s) url, got '%s'", upstream)
		}
		target.Address = upstream
	default:
		return target, fmt.Errorf("upstream_transport must be udp, tcp or https, got '%s'", cfg.UpstreamTransport)
	}

	return target, nil
}

func withDefaultPort(upstream string) (string, error) {
	host, port, err := net.SplitHostPort(upstream)
	if err != nil {
		// bare host or IPv6 literal without a port
		host = strings.TrimSuffix(strings.TrimPrefix(upstream, "["), "]")
		port = defaultDnsPort
	}

	if host == "" {
		return "", fmt.Errorf("upstream '%s' has no host", upstream)
	}

	if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
		return "", fmt.Errorf("upstream '%s' has an invalid port", upstream)
	}

	return net.JoinHostPort(host, port), nil
}

// Check the settings that are not covered by UpstreamTarget
func (cfg AppConfig) prepare() error {
	if cfg.MaxMessageSize < 12 || cfg.MaxMessageSize > models.MaxMessageSize {
		return fmt.Errorf("max_message_size must be between 12 and %d, got %d", models.MaxMessageSize, cfg.MaxMessageSize)
	}

	if cfg.RequestTimeoutMs <= 0 {
		return fmt.Errorf("request_timeout_ms must be positive, got %d", cfg.RequestTimeoutMs)
	}

	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return fmt.Errorf("log_format must be text or json, got '%s'", cfg.LogFormat)
	}

	_, err := cfg.UpstreamTarget()
	return err
}

func getEnvBool(name string, def bool) bool {
	data := os.Getenv(name)
	if data == "" {
		return def
	}
	return data == "1" || strings.ToLower(data) == "true" || strings.ToLower(data) == "yes"
}

func getEnvString(name string, def string) string {
	data := os.Getenv(name)
	if data == "" {
		return def
	}
	return data
}

func getEnvInt(name string, def int) int {
	data := os.Getenv(name)

	if data == "" {
		return def
	}
	ret, err := strconv.Atoi(data)
	if err != nil {
		return def
	}

	return ret
}

func getEnvInt64(name string, def int64) int64 {
	data := os.Getenv(name)
	if data == "" {
		return def
	}
	ret, err := strconv.ParseInt(data, 10, 64)
	if err != nil {
		return def
	}
	return ret
}

func getEnvFloat(name string, def float64) float64 {
	data := os.Getenv(name)
	if data == "" {
		return def
	}
	ret, err := strconv.ParseFloat(data, 64)
	if err != nil {
		return def
	}
	return ret
}

func getEnvironmentConfig() AppConfig {
	config := GetDefaultConfig()

	config.BindAddress = getEnvString("DONUT_BIND_ADDRESS", config.BindAddress)
	config.HttpPort = getEnvInt("DONUT_HTTP_PORT", config.HttpPort)
	config.Upstream = getEnvString("DONUT_UPSTREAM", config.Upstream)
	config.UpstreamTransport = getEnvString("DONUT_UPSTREAM_TRANSPORT", config.UpstreamTransport)
	config.UpstreamIpVersion = getEnvString("DONUT_UPSTREAM_IP_VERSION", config.UpstreamIpVersion)
	config.UpstreamTimeoutMs = getEnvInt("DONUT_UPSTREAM_TIMEOUT_MS", config.UpstreamTimeoutMs)
	config.RequestTimeoutMs = getEnvInt("DONUT_REQUEST_TIMEOUT_MS", config.RequestTimeoutMs)
	config.MaxMessageSize = getEnvInt("DONUT_MAX_MESSAGE_SIZE", config.MaxMessageSize)
	config.UdpSize = getEnvInt("DONUT_UDP_SIZE", config.UdpSize)
	config.TcpReuse = getEnvBool("DONUT_TCP_REUSE", config.TcpReuse)
	config.TcpPoolSize = getEnvInt("DONUT_TCP_POOL_SIZE", config.TcpPoolSize)
	config.MaxInflight = getEnvInt64("DONUT_MAX_INFLIGHT", config.MaxInflight)
	config.UpstreamQps = getEnvFloat("DONUT_UPSTREAM_QPS", config.UpstreamQps)
	config.RespectResolveConf = getEnvBool("DONUT_RESPECT_RESOLVCONF", config.RespectResolveConf)
	config.ResolvConfPath = getEnvString("DONUT_RESOLVCONF_PATH", config.ResolvConfPath)
	config.LogLevel = getEnvInt("DONUT_LOG_LEVEL", config.LogLevel)
	config.LogFormat = getEnvString("DONUT_LOG_FORMAT", config.LogFormat)
	config.DisableMetrics = getEnvBool("DONUT_DISABLE_METRICS", config.DisableMetrics)
	config.MetricsPort = getEnvInt("DONUT_METRICS_PORT", config.MetricsPort)

	return config
}

// GetConfig loads configuration from a JSON or YAML file, chosen by
// extension. A missing file means configuration comes from the
// environment instead.
func GetConfig(path string) (*AppConfig, error) {
	config := GetDefaultConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		config = getEnvironmentConfig()
		return &config, config.prepare()
	}

	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &config)
	default:
		err = json.Unmarshal(data, &config)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return &config, config.prepare()
}
