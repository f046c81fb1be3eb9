package types

import "time"

// 运行模式
const (
	// ModeBatch 先检查授权状态，再依次尝试整个代理列表（受 MaxEndpoints 限制）。
	ModeBatch = "batch"
	// ModeSingle 跳过授权检查，只使用列表中第一个有效代理。
	ModeSingle = "single"
)

// CommonConf 包含共有的配置
type CommonConf struct {
	Mode string `ini:"mode"`
}

// TelegramConf 远端服务客户端所需的应用凭据
type TelegramConf struct {
	APIID   int    `ini:"api_id"`
	APIHash string `ini:"api_hash"`
}

// TrialConf 控制单次尝试的各阶段超时与批次并发。
type TrialConf struct {
	ConnectTimeout   time.Duration `ini:"connect_timeout"`
	AuthCheckTimeout time.Duration `ini:"auth_check_timeout"`
	SendTimeout      time.Duration `ini:"send_timeout"`
	ConcurrencyLimit int           `ini:"concurrency_limit"`
	StaggerDelay     time.Duration `ini:"stagger_delay"`
	MaxEndpoints     int           `ini:"max_endpoints"`
}

// FilesConf 代理源文件与成功列表文件的位置
type FilesConf struct {
	ProxiesFile   string `ini:"proxies_file"`
	OkProxiesFile string `ini:"ok_proxies_file"`
}

// LocalConf 包含 web 前端的配置
type LocalConf struct {
	WebPort     int    `ini:"web_port"`
	WebUser     string `ini:"web_user"`
	WebPassword string `ini:"web_password"`
}

// LogConf contains logging specific configuration
type LogConf struct {
	Level string `ini:"level"`
}

// Config 是项目的统一配置结构体
type Config struct {
	CommonConf   `ini:"common"`
	TelegramConf `ini:"telegram"`
	TrialConf    `ini:"trial"`
	FilesConf    `ini:"files"`
	LocalConf    `ini:"local"`
	LogConf      `ini:"log"`
}

// DefaultConfig returns the configuration used when the ini file omits a key.
func DefaultConfig() *Config {
	return &Config{
		CommonConf: CommonConf{Mode: ModeBatch},
		TrialConf: TrialConf{
			ConnectTimeout:   15 * time.Second,
			AuthCheckTimeout: 5 * time.Second,
			SendTimeout:      15 * time.Second,
			ConcurrencyLimit: 4,
			StaggerDelay:     200 * time.Millisecond,
			MaxEndpoints:     25,
		},
		FilesConf: FilesConf{
			ProxiesFile:   "proxies.txt",
			OkProxiesFile: "ok_proxies.txt",
		},
		LocalConf: LocalConf{WebPort: 10000},
		LogConf:   LogConf{Level: "info"},
	}
}
