package model

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"strings"
	"sync/atomic"
)

// debugMode 为真时修订号保持不变，保证测试夹具可复现。
var debugMode atomic.Bool

// SetDebug 切换全局 debug 模式，由配置层在启动时注入。
func SetDebug(enabled bool) {
	debugMode.Store(enabled)
}

// Debug 返回当前是否处于 debug 模式。
func Debug() bool {
	return debugMode.Load()
}

// GenerateRevision 基于旧修订号产出 `N-16位十六进制` 形式的新值，
// 计数器严格递增。debug 模式下原样返回旧值。
func GenerateRevision(old string) string {
	if Debug() {
		return old
	}

	counter := 0
	if idx := strings.Index(old, "-"); idx > 0 {
		if parsed, err := strconv.Atoi(old[:idx]); err == nil {
			counter = parsed
		}
	}

	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand 几乎不会失败，失败时退回固定填充仍保持计数器递增。
		copy(buf, []byte{0, 0, 0, 0, 0, 0, 0, 0})
	}
	return strconv.Itoa(counter+1) + "-" + hex.EncodeToString(buf)
}

// RevisionCounter 提取修订号前缀计数器，解析失败时返回 0。
func RevisionCounter(rev string) int {
	idx := strings.Index(rev, "-")
	if idx <= 0 {
		return 0
	}
	counter, err := strconv.Atoi(rev[:idx])
	if err != nil {
		return 0
	}
	return counter
}
