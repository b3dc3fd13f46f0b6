package uplink

import (
	"context"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/npm-hub/internal/model"
)

// ProgressFunc 在下载过程中周期回调，written 为已传输字节数，total 在
// 上游未提供 Content-Length 时为 -1。
type ProgressFunc func(written, total int64)

// TarballStream 是上游 tarball 的读取端。读到 EOF 或连接提前结束时校验
// 传输字节数与 Content-Length 一致，不一致以 content-mismatch 报错。
type TarballStream struct {
	body     io.ReadCloser
	total    int64
	written  int64
	progress ProgressFunc
	name     string
}

// FetchTarball 打开上游 tarball 流。熔断语义与 FetchManifest 一致。
func (c *Client) FetchTarball(ctx context.Context, rawURL string, progress ProgressFunc) (*TarballStream, error) {
	if !c.breaker.Ready() {
		return nil, model.NewError(model.KindUnavailable, "uplink %s circuit open", c.opts.Name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, model.WrapError(model.KindInternal, err, "build tarball request")
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.breaker.Fail()
		return nil, model.WrapError(model.KindUnavailable, err, "uplink %s unreachable", c.opts.Name)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		c.breaker.Success()
		return nil, model.NewError(model.KindNotFound, "tarball not found on uplink %s: %s", c.opts.Name, rawURL)

	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		resp.Body.Close()
		c.breaker.Fail()
		return nil, model.NewError(model.KindUnavailable, "uplink %s returned status %d", c.opts.Name, resp.StatusCode)

	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		c.breaker.Success()
		return nil, model.NewError(model.KindInternal, "uplink %s returned status %d", c.opts.Name, resp.StatusCode)
	}

	c.breaker.Success()
	c.logDebug(logrus.Fields{
		"action": "tarball_fetch",
		"uplink": c.opts.Name,
		"url":    rawURL,
		"size":   resp.ContentLength,
	}, "tarball stream opened")

	return &TarballStream{
		body:     resp.Body,
		total:    resp.ContentLength,
		progress: progress,
		name:     c.opts.Name,
	}, nil
}

// Size 返回上游声明的 Content-Length，未知时为 -1。
func (s *TarballStream) Size() int64 {
	return s.total
}

func (s *TarballStream) Read(p []byte) (int, error) {
	n, err := s.body.Read(p)
	if n > 0 {
		s.written += int64(n)
		if s.progress != nil {
			s.progress(s.written, s.total)
		}
	}
	if (err == io.EOF || err == io.ErrUnexpectedEOF) && s.total >= 0 && s.written != s.total {
		return n, model.NewError(model.KindContentMismatch,
			"content length mismatch: expected %d bytes, got %d", s.total, s.written)
	}
	return n, err
}

// Close 关闭底层响应体。
func (s *TarballStream) Close() error {
	return s.body.Close()
}
