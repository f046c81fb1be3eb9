package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"sendcode_nexus/internal/shared/logger"
	"sendcode_nexus/proxypool/catalog"
	"sendcode_nexus/proxypool/model"
)

// Storage 接口定义了成功代理列表的持久化行为。
type Storage interface {
	Load() ([]model.Endpoint, error)
	Save(endpoints []model.Endpoint) error
}

// SuccessStore 实现了 Storage 接口，使用纯文本文件保存“本次运行中可用的代理”快照。
// 每次 Save 都覆盖旧内容，不做追加。
type SuccessStore struct {
	filePath string
	mu       sync.RWMutex
}

// NewSuccessStore 创建一个新的 SuccessStore 实例。
func NewSuccessStore(filePath string) *SuccessStore {
	return &SuccessStore{
		filePath: filePath,
	}
}

// Path returns the file the store writes to.
func (fs *SuccessStore) Path() string {
	return fs.filePath
}

// Load 读取上一次保存的快照，格式与代理源文件相同，因此直接复用 catalog 的解析。
func (fs *SuccessStore) Load() ([]model.Endpoint, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return catalog.LoadFile(fs.filePath)
}

// Save 按给定顺序每行写入一个代理。空列表会写出一个空文件。
// 先写临时文件再 rename，读者不会看到写了一半的快照。
func (fs *SuccessStore) Save(endpoints []model.Endpoint) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	l := logger.WithComponent("ProxyPool/Storage")

	var sb strings.Builder
	for _, ep := range endpoints {
		sb.WriteString(ep.String())
		sb.WriteString("\n")
	}

	dir := filepath.Dir(fs.filePath)
	tmp, err := os.CreateTemp(dir, filepath.Base(fs.filePath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(sb.String()); err != nil {
		tmp.Close()
		return fmt.Errorf("write success list: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close success list: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("chmod success list: %w", err)
	}
	if err := os.Rename(tmpName, fs.filePath); err != nil {
		return fmt.Errorf("replace success list: %w", err)
	}

	l.Info().Int("count", len(endpoints)).Str("path", fs.filePath).Msg("Saved working proxies.")
	return nil
}
