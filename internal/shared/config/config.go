package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/ini.v1"
	"sendcode_nexus/internal/shared/types"
)

// LoadIni 加载 .ini 配置文件，缺失的键保留 cfg 中已有的默认值。
// 文件不存在时直接使用默认值，之后再应用环境变量覆盖。
func LoadIni(cfg *types.Config, fileName string) error {
	if fileName != "" {
		iniFile, err := ini.LoadSources(ini.LoadOptions{Loose: true}, fileName)
		if err != nil {
			return err
		}
		if err := iniFile.MapTo(cfg); err != nil {
			return fmt.Errorf("failed to map config file: %w", err)
		}
	}

	overrideFromEnvInt(&cfg.TelegramConf.APIID, "API_ID")
	overrideFromEnvString(&cfg.TelegramConf.APIHash, "API_HASH")
	overrideFromEnvInt(&cfg.LocalConf.WebPort, "PORT")
	overrideFromEnvString(&cfg.FilesConf.ProxiesFile, "PROXIES_FILE")
	return nil
}

// Validate 检查启动所必需的配置。缺少远端客户端标识是唯一的致命配置错误。
func Validate(cfg *types.Config) error {
	if cfg.TelegramConf.APIID == 0 || cfg.TelegramConf.APIHash == "" {
		return errors.New("api_id and api_hash must be set (ini [telegram] section or API_ID/API_HASH env)")
	}
	switch cfg.CommonConf.Mode {
	case types.ModeBatch, types.ModeSingle:
	default:
		return fmt.Errorf("unknown mode %q (expected %q or %q)", cfg.CommonConf.Mode, types.ModeBatch, types.ModeSingle)
	}
	if cfg.TrialConf.ConcurrencyLimit <= 0 {
		return fmt.Errorf("concurrency_limit must be positive, got %d", cfg.TrialConf.ConcurrencyLimit)
	}
	return nil
}

func overrideFromEnvInt(target *int, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			*target = intValue
		}
	}
}

func overrideFromEnvString(target *string, envName string) {
	if envValue := os.Getenv(envName); envValue != "" {
		*target = envValue
	}
}
