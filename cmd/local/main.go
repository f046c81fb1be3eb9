package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"sendcode_nexus/internal/app"
	"sendcode_nexus/internal/shared/config"
	"sendcode_nexus/internal/shared/logger"
	"sendcode_nexus/internal/shared/types"
)

func main() {
	configDir := flag.String("configdir", "configs", "Path to config directory")
	phone := flag.String("phone", "", "Run a single batch for this phone number and exit")
	flag.Parse()

	iniPath := filepath.Join(*configDir, "sendcode.ini")

	// 1. 加载 .ini 配置，缺失的键使用默认值
	cfg := types.DefaultConfig()
	if err := config.LoadIni(cfg, iniPath); err != nil {
		// Use standard fmt before logger is initialized.
		fmt.Fprintf(os.Stderr, "Fatal: Failed to load config file '%s': %v\n", iniPath, err)
		os.Exit(1)
	}

	// 1.1 初始化日志系统
	if err := logger.Init(cfg.LogConf); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	if err := config.Validate(cfg); err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appServer := app.New(cfg)

	// 2. 单次模式：运行一个批次，打印汇总后退出
	if *phone != "" {
		result, err := appServer.RunOnce(ctx, *phone)
		if err != nil {
			logger.Fatal().Err(err).Msg("Batch failed")
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			logger.Fatal().Err(err).Msg("Failed to print result")
		}
		if result.PersistError != "" {
			os.Exit(1)
		}
		return
	}

	// 3. 服务模式
	if err := appServer.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}
