package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

func (b *FSBackend) OpenTarballRead(ctx context.Context, name, filename string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filePath, err := b.tarballPath(name, filename)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

func (b *FSBackend) OpenTarballWrite(ctx context.Context, name, filename string) (WriteStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filePath, err := b.tarballPath(name, filename)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".tarball-*")
	if err != nil {
		return nil, err
	}

	return &fsWriteStream{
		ctx:   ctx,
		file:  tempFile,
		final: filePath,
	}, nil
}

func (b *FSBackend) DeleteTarball(ctx context.Context, name, filename string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	filePath, err := b.tarballPath(name, filename)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// tarballPath 校验文件名是单段路径后落在包目录内。
func (b *FSBackend) tarballPath(name, filename string) (string, error) {
	if filename == "" || filename == manifestFile {
		return "", errors.New("invalid tarball filename")
	}
	if strings.ContainsAny(filename, "/\\") || filename == "." || filename == ".." {
		return "", errors.New("invalid tarball filename")
	}

	dir, err := b.packageDir(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, filename), nil
}

// fsWriteStream 先写临时文件，Commit 时 rename 生效。取消或失败时
// 旧字节保持原样，临时文件被清理。
type fsWriteStream struct {
	ctx   context.Context
	file  *os.File
	final string

	mu   sync.Mutex
	done bool
}

func (s *fsWriteStream) Write(p []byte) (int, error) {
	if err := s.ctx.Err(); err != nil {
		return 0, err
	}
	return s.file.Write(p)
}

func (s *fsWriteStream) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	s.done = true

	if err := s.ctx.Err(); err != nil {
		s.discard()
		return err
	}

	if err := s.file.Sync(); err != nil {
		s.discard()
		return err
	}
	if err := s.file.Close(); err != nil {
		os.Remove(s.file.Name())
		return err
	}
	if err := os.Rename(s.file.Name(), s.final); err != nil {
		os.Remove(s.file.Name())
		return err
	}
	return nil
}

func (s *fsWriteStream) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	s.done = true
	s.discard()
	return nil
}

func (s *fsWriteStream) discard() {
	s.file.Close()
	os.Remove(s.file.Name())
}
