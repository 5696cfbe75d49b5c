package app

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/56quarters/donut/resolver"
)

func writeConfig(t *testing.T, name string, data string) string {
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("unable to write test config: %v", err)
	}
	return path
}

func TestGetConfigMissingFileUsesEnvironment(t *testing.T) {
	t.Setenv("DONUT_UPSTREAM", "192.0.2.53")
	t.Setenv("DONUT_HTTP_PORT", "8053")
	t.Setenv("DONUT_DISABLE_METRICS", "false")

	config, err := GetConfig(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if config.Upstream != "192.0.2.53" || config.HttpPort != 8053 || config.DisableMetrics {
		t.Errorf("environment was not applied: %+v", config)
	}

	if config.RequestTimeoutMs != 2000 {
		t.Errorf("default request timeout was %d, expected 2000", config.RequestTimeoutMs)
	}
}

func TestGetConfigEnvironmentCoversUpstreamTuning(t *testing.T) {
	t.Setenv("DONUT_UPSTREAM_IP_VERSION", "6")
	t.Setenv("DONUT_UDP_SIZE", "1400")
	t.Setenv("DONUT_TCP_REUSE", "false")
	t.Setenv("DONUT_TCP_POOL_SIZE", "4")
	t.Setenv("DONUT_MAX_INFLIGHT", "64")
	t.Setenv("DONUT_UPSTREAM_QPS", "12.5")
	t.Setenv("DONUT_LOG_FORMAT", "json")
	t.Setenv("DONUT_METRICS_PORT", "9153")

	config, err := GetConfig(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if config.UpstreamIpVersion != "6" || config.UdpSize != 1400 || config.TcpReuse || config.TcpPoolSize != 4 {
		t.Errorf("upstream transport settings were not applied: %+v", config)
	}

	if config.MaxInflight != 64 || config.UpstreamQps != 12.5 {
		t.Errorf("upstream limits were not applied: %+v", config)
	}

	if config.LogFormat != "json" || config.MetricsPort != 9153 {
		t.Errorf("log and metrics settings were not applied: %+v", config)
	}

	target, err := config.UpstreamTarget()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if target.IpVersion != "6" || target.TcpReuse || target.Qps != 12.5 {
		t.Errorf("environment did not reach the upstream target: %+v", target)
	}
}

func TestGetConfigJson(t *testing.T) {
	path := writeConfig(t, "donut.json", `{"upstream": "192.0.2.1:5353", "upstream_timeout_ms": 250, "max_message_size": 4096}`)

	config, err := GetConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if config.Upstream != "192.0.2.1:5353" || config.UpstreamTimeoutMs != 250 || config.MaxMessageSize != 4096 {
		t.Errorf("file values were not applied: %+v", config)
	}

	if config.HttpPort != 3000 {
		t.Errorf("unset values should keep defaults, http port was %d", config.HttpPort)
	}
}

func TestGetConfigYaml(t *testing.T) {
	data := strings.Join([]string{
		"upstream: https://dns.example/dns-query",
		"upstream_transport: https",
		"tcp_reuse: false",
		"log_format: json",
	}, "\n")
	path := writeConfig(t, "donut.yaml", data)

	config, err := GetConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if config.UpstreamTransport != resolver.TransportHttps || config.TcpReuse || config.LogFormat != "json" {
		t.Errorf("yaml values were not applied: %+v", config)
	}
}

func TestGetConfigRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"bad json":          `{"upstream": `,
		"huge messages":     `{"max_message_size": 70000}`,
		"bad transport":     `{"upstream_transport": "quic"}`,
		"bad ip version":    `{"upstream_ip_version": "5"}`,
		"no timeout":        `{"request_timeout_ms": 0}`,
		"bad log format":    `{"log_format": "xml"}`,
		"http upstream":     `{"upstream_transport": "https", "upstream": "192.0.2.1"}`,
		"negative inflight": `{"max_inflight": -1}`,
	}

	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			path := writeConfig(t, "donut.json", data)
			if _, err := GetConfig(path); err == nil {
				t.Errorf("expected an error for %s", data)
			}
		})
	}
}

func TestUpstreamTarget(t *testing.T) {
	type test struct {
		upstream  string
		expected  string
		expectErr bool
	}

	tests := []test{
		{upstream: "192.0.2.1", expected: "192.0.2.1:53"},
		{upstream: "192.0.2.1:5353", expected: "192.0.2.1:5353"},
		{upstream: "2001:db8::1", expected: "[2001:db8::1]:53"},
		{upstream: "[2001:db8::1]:5353", expected: "[2001:db8::1]:5353"},
		{upstream: "dns.example", expected: "dns.example:53"},
		{upstream: "192.0.2.1:99999", expectErr: true},
		{upstream: "", expectErr: true},
	}

	for _, test := range tests {
		t.Run(test.upstream, func(t *testing.T) {
			config := GetDefaultConfig()
			config.Upstream = test.upstream

			target, err := config.UpstreamTarget()
			if test.expectErr {
				if err == nil {
					t.Errorf("expected error, got %+v", target)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if target.Address != test.expected {
				t.Errorf("address was %s, expected %s", target.Address, test.expected)
			}

			if target.Timeout != time.Second {
				t.Errorf("timeout was %s, expected 1s", target.Timeout)
			}
		})
	}
}

func TestUpstreamTargetFromResolvConf(t *testing.T) {
	path := writeConfig(t, "resolv.conf", "search example\nnameserver 192.0.2.9\n")

	config := GetDefaultConfig()
	config.Upstream = ""
	config.RespectResolveConf = true
	config.ResolvConfPath = path

	target, err := config.UpstreamTarget()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if target.Address != "192.0.2.9:53" {
		t.Errorf("address was %s, expected 192.0.2.9:53", target.Address)
	}
}

func TestNewLoggerFormat(t *testing.T) {
	config := GetDefaultConfig()
	config.LogFormat = "json"

	buf := bytes.Buffer{}
	NewLogger(config, &buf).Info("hello", "upstream", "192.0.2.1")

	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("expected json output, got %s", buf.String())
	}

	buf.Reset()
	config.LogFormat = "text"
	NewLogger(config, &buf).Debug("hidden")

	if buf.Len() != 0 {
		t.Errorf("debug output should be filtered at level %d: %s", slog.LevelInfo, buf.String())
	}
}

func TestNewAppState(t *testing.T) {
	config := GetDefaultConfig()

	state, err := NewAppState(config, NewLogger(config, os.Stderr))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if state.Resolver == nil || state.Metrics == nil || state.Log == nil {
		t.Errorf("state was not fully built: %+v", state)
	}

	config.UpstreamTransport = "smoke-signal"
	if _, err := NewAppState(config, NewLogger(config, os.Stderr)); err == nil {
		t.Error("expected an error for an invalid transport")
	}
}
