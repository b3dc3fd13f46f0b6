package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

// indexFile 沿用既有存储布局的文件名，保证老数据目录可以直接挂载。
const (
	indexFile  = ".verdaccio-db.json"
	tokensFile = ".tokens.json"
)

// indexDocument 是全局索引的磁盘结构：已知包名列表 + 实例密钥。
type indexDocument struct {
	List   []string `json:"list"`
	Secret string   `json:"secret"`
}

func (b *FSBackend) AddPackage(ctx context.Context, name string) error {
	return b.mutateIndex(ctx, func(doc *indexDocument) bool {
		for _, existing := range doc.List {
			if existing == name {
				return false
			}
		}
		doc.List = append(doc.List, name)
		sort.Strings(doc.List)
		return true
	})
}

func (b *FSBackend) removeFromIndex(name string) error {
	return b.mutateIndex(context.Background(), func(doc *indexDocument) bool {
		for i, existing := range doc.List {
			if existing == name {
				doc.List = append(doc.List[:i], doc.List[i+1:]...)
				return true
			}
		}
		return false
	})
}

func (b *FSBackend) ListPackages(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc, err := b.readIndex()
	if err != nil {
		return nil, err
	}
	return doc.List, nil
}

// Search 实现可选的 Searcher 能力：目前按包名子串匹配索引。
func (b *FSBackend) Search(ctx context.Context, query string) ([]SearchItem, error) {
	names, err := b.ListPackages(ctx)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(strings.TrimSpace(query))
	var items []SearchItem
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if needle != "" && !strings.Contains(strings.ToLower(name), needle) {
			continue
		}

		item := SearchItem{Name: name}
		if manifestPath, pathErr := b.manifestPath(name); pathErr == nil {
			if info, statErr := os.Stat(manifestPath); statErr == nil {
				item.Modified = info.ModTime()
			}
		}
		items = append(items, item)
	}
	return items, nil
}

// mutateIndex 在 flock 保护下读改写索引文件；mutate 返回 false 表示无变更。
func (b *FSBackend) mutateIndex(ctx context.Context, mutate func(*indexDocument) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	lock := flock.New(filepath.Join(b.basePath, indexFile+".lock"))
	if err := lock.Lock(); err != nil {
		return err
	}
	defer lock.Unlock()

	doc, err := b.readIndex()
	if err != nil {
		return err
	}
	if !mutate(doc) {
		return nil
	}
	return b.writeIndex(doc)
}

func (b *FSBackend) readIndex() (*indexDocument, error) {
	doc := &indexDocument{}
	data, err := os.ReadFile(filepath.Join(b.basePath, indexFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return doc, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (b *FSBackend) writeIndex(doc *indexDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(b.basePath, ".index-*")
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
	if err := os.Rename(tempName, filepath.Join(b.basePath, indexFile)); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

// tokenDocument 的磁盘结构：user → key → token 元数据。
type tokenDocument map[string]map[string]Token

// SaveToken 实现可选的 TokenStore 能力。
func (b *FSBackend) SaveToken(ctx context.Context, token Token) error {
	if token.User == "" || token.Key == "" {
		return errors.New("token user and key required")
	}
	if token.Created == 0 {
		token.Created = time.Now().Unix()
	}
	return b.mutateTokens(ctx, func(doc tokenDocument) bool {
		byUser := doc[token.User]
		if byUser == nil {
			byUser = map[string]Token{}
			doc[token.User] = byUser
		}
		byUser[token.Key] = token
		return true
	})
}

// DeleteToken 删除指定用户的令牌，不存在时返回 ErrNotFound。
func (b *FSBackend) DeleteToken(ctx context.Context, user, key string) error {
	missing := false
	err := b.mutateTokens(ctx, func(doc tokenDocument) bool {
		byUser, ok := doc[user]
		if !ok {
			missing = true
			return false
		}
		if _, ok := byUser[key]; !ok {
			missing = true
			return false
		}
		delete(byUser, key)
		if len(byUser) == 0 {
			delete(doc, user)
		}
		return true
	})
	if err != nil {
		return err
	}
	if missing {
		return ErrNotFound
	}
	return nil
}

// ReadTokens 返回指定用户的全部令牌。
func (b *FSBackend) ReadTokens(ctx context.Context, user string) ([]Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc, err := b.readTokens()
	if err != nil {
		return nil, err
	}

	byUser := doc[user]
	tokens := make([]Token, 0, len(byUser))
	for _, token := range byUser {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].Key < tokens[j].Key })
	return tokens, nil
}

func (b *FSBackend) mutateTokens(ctx context.Context, mutate func(tokenDocument) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	lock := flock.New(filepath.Join(b.basePath, tokensFile+".lock"))
	if err := lock.Lock(); err != nil {
		return err
	}
	defer lock.Unlock()

	doc, err := b.readTokens()
	if err != nil {
		return err
	}
	if !mutate(doc) {
		return nil
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	tempFile, err := os.CreateTemp(b.basePath, ".tokens-*")
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
	if err := os.Rename(tempName, filepath.Join(b.basePath, tokensFile)); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (b *FSBackend) readTokens() (tokenDocument, error) {
	doc := tokenDocument{}
	data, err := os.ReadFile(filepath.Join(b.basePath, tokensFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return doc, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
