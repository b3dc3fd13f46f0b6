package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/any-hub/npm-hub/internal/model"
)

const manifestFile = "package.json"

// NewFSBackend 以 basePath 为根目录构建文件系统后端，整个进程复用一份实例。
func NewFSBackend(basePath string) (*FSBackend, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &FSBackend{
		basePath: abs,
		locks:    make(map[string]*packageLock),
	}, nil
}

// FSBackend 把每个包映射到 <basePath>/<name>/ 目录，scoped 包自然落在
// @scope/ 子目录。包级 refcount 锁保证同名包的更新相互串行。
type FSBackend struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*packageLock
}

type packageLock struct {
	mu   sync.Mutex
	refs int
}

func (b *FSBackend) ReadManifest(ctx context.Context, name string) (*model.Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filePath, err := b.manifestPath(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return model.ParseManifest(data)
}

func (b *FSBackend) WriteManifest(ctx context.Context, name string, manifest *model.Manifest) error {
	unlock, err := b.lockPackage(name)
	if err != nil {
		return err
	}
	defer unlock()

	return b.writeManifestLocked(ctx, name, manifest)
}

func (b *FSBackend) UpdateManifest(ctx context.Context, name string, transform UpdateFunc) (*model.Manifest, error) {
	unlock, err := b.lockPackage(name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	filePath, err := b.manifestPath(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	current, err := model.ParseManifest(data)
	if err != nil {
		return nil, err
	}

	next, err := transform(current.Clone())
	if err != nil {
		return nil, err
	}
	if next == nil {
		return current, nil
	}

	if err := b.writeManifestLocked(ctx, name, next); err != nil {
		return nil, err
	}
	return next, nil
}

// writeManifestLocked 假定调用方已持有包级锁，负责临时文件 + rename 落盘。
func (b *FSBackend) writeManifestLocked(ctx context.Context, name string, manifest *model.Manifest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	filePath, err := b.manifestPath(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".manifest-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, writeErr := tempFile.Write(data)
	closeErr := tempFile.Close()
	if writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(tempName)
		return writeErr
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (b *FSBackend) RemovePackage(ctx context.Context, name string) error {
	unlock, err := b.lockPackage(name)
	if err != nil {
		return err
	}
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	dir, err := b.packageDir(name)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}

	// scoped 包删空后顺带清理 @scope 目录，忽略非空错误。
	if model.IsScoped(name) {
		_ = os.Remove(filepath.Dir(dir))
	}

	return b.removeFromIndex(name)
}

// lockPackage 与 teacher 的缓存条目锁一致：refcount 管理生命周期，
// 空闲锁即时回收。
func (b *FSBackend) lockPackage(name string) (func(), error) {
	if name == "" {
		return nil, errors.New("package name required")
	}

	b.mu.Lock()
	lock := b.locks[name]
	if lock == nil {
		lock = &packageLock{}
		b.locks[name] = lock
	}
	lock.refs++
	b.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		b.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(b.locks, name)
		}
		b.mu.Unlock()
	}, nil
}

func (b *FSBackend) manifestPath(name string) (string, error) {
	dir, err := b.packageDir(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, manifestFile), nil
}

// packageDir 将包名映射到磁盘目录，拒绝任何越出存储根的路径。
func (b *FSBackend) packageDir(name string) (string, error) {
	if name == "" {
		return "", errors.New("package name required")
	}
	for _, segment := range strings.Split(name, "/") {
		if segment == ".." {
			return "", errors.New("invalid package path")
		}
	}

	rel := path.Clean("/" + name)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" || rel == "." {
		return "", errors.New("invalid package name")
	}

	dir := filepath.Join(b.basePath, filepath.FromSlash(rel))
	if !strings.HasPrefix(dir, b.basePath+string(filepath.Separator)) {
		return "", errors.New("invalid package path")
	}
	return dir, nil
}

// CopyWithContext 在拷贝循环中检查取消信号，避免大文件阻塞无法中断。
func CopyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
