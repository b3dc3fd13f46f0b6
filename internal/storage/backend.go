// Package storage 定义按包命名空间划分的存储后端契约及默认文件系统实现。
// 清单与 tarball 分开存取，所有写入都要求原子落盘。
package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/any-hub/npm-hub/internal/model"
)

// UpdateFunc 是串行化读改写事务的变换函数。入参是当前清单的副本，
// 返回值整体替换旧清单；返回错误则放弃写入。
type UpdateFunc func(*model.Manifest) (*model.Manifest, error)

// Backend 是存储插件边界。实现需保证：同名包的 UpdateManifest 相互
// 线性化；清单与 tarball 写入均为原子替换。所有操作都可能阻塞于 I/O，
// 因此统一接收 context。
type Backend interface {
	// ReadManifest 读取清单，缺失时返回 ErrNotFound。
	ReadManifest(ctx context.Context, name string) (*model.Manifest, error)

	// WriteManifest 原子替换清单（写临时文件 + rename 或等价机制）。
	WriteManifest(ctx context.Context, name string, manifest *model.Manifest) error

	// UpdateManifest 在包级锁内执行 read → transform → write。
	UpdateManifest(ctx context.Context, name string, transform UpdateFunc) (*model.Manifest, error)

	// AddPackage 将包登记进全局索引，供列举与搜索使用。
	AddPackage(ctx context.Context, name string) error

	// RemovePackage 移除索引项并删除包目录。
	RemovePackage(ctx context.Context, name string) error

	// ListPackages 返回全局索引中的包名。
	ListPackages(ctx context.Context) ([]string, error)

	// OpenTarballRead 打开 tarball 读取流，缺失时返回 ErrNotFound。
	OpenTarballRead(ctx context.Context, name, filename string) (io.ReadCloser, error)

	// OpenTarballWrite 打开原子写入流：Commit 前读者只能看到旧字节。
	OpenTarballWrite(ctx context.Context, name, filename string) (WriteStream, error)

	// DeleteTarball 删除 tarball 字节。
	DeleteTarball(ctx context.Context, name, filename string) error
}

// WriteStream 是 tarball 的原子写入句柄。Commit 使新字节可见，
// Abort 丢弃临时文件；两者最多调用一个，重复调用为空操作。
type WriteStream interface {
	io.Writer
	Commit() error
	Abort() error
}

// Searcher 是可选能力：不实现时引擎报告搜索不可用。
type Searcher interface {
	Search(ctx context.Context, query string) ([]SearchItem, error)
}

// SearchItem 是后端搜索返回的轻量条目，详细信息由引擎回读清单补全。
type SearchItem struct {
	Name     string    `json:"name"`
	Modified time.Time `json:"modified,omitempty"`
}

// TokenStore 是可选能力：持久化发布令牌。
type TokenStore interface {
	SaveToken(ctx context.Context, token Token) error
	DeleteToken(ctx context.Context, user, key string) error
	ReadTokens(ctx context.Context, user string) ([]Token, error)
}

// Token 记录一个发布令牌的元数据，明文令牌不落盘。
type Token struct {
	User     string `json:"user"`
	Key      string `json:"key"`
	ReadOnly bool   `json:"readonly"`
	Created  int64  `json:"created"`
}

var (
	// ErrNotFound 表示包、清单或 tarball 不存在。
	ErrNotFound = errors.New("storage entry not found")

	// ErrConflict 表示写入因并发修改被拒绝。
	ErrConflict = errors.New("storage write conflict")

	// ErrUnsupported 表示后端未实现可选能力。
	ErrUnsupported = errors.New("storage capability unsupported")
)
