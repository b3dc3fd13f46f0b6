package uplink

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenk/backoff"
	circuit "github.com/rubyist/circuitbreaker"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/npm-hub/internal/model"
)

// Options 描述单个 uplink 的运行参数，来自配置文件。
type Options struct {
	Name       string
	URL        *url.URL
	Cache      bool
	Timeout    time.Duration
	MaxFails   int
	FailWindow time.Duration
	Username   string
	Password   string
}

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxFails   = 2
	defaultFailWindow = 10 * time.Minute
)

// Client 对应一个配置的上游 registry。熔断器计数内部自护，实例可被
// 多个请求并发使用。
type Client struct {
	opts    Options
	client  *http.Client
	breaker *circuit.Breaker
	logger  *logrus.Logger
}

// New 构建 uplink 客户端，超时与熔断参数缺省时取内置默认值。
func New(opts Options, logger *logrus.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxFails <= 0 {
		opts.MaxFails = defaultMaxFails
	}
	if opts.FailWindow <= 0 {
		opts.FailWindow = defaultFailWindow
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = opts.FailWindow / 10
	expBackoff.MaxInterval = opts.FailWindow
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()

	breaker := circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ConsecutiveTripFunc(int64(opts.MaxFails)),
		WindowTime: opts.FailWindow,
	})

	return &Client{
		opts: opts,
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: newTransport(),
		},
		breaker: breaker,
		logger:  logger,
	}
}

// Name 返回 uplink 的配置名。
func (c *Client) Name() string {
	return c.opts.Name
}

// CacheEnabled 返回该 uplink 是否回写 tarball 缓存。
func (c *Client) CacheEnabled() bool {
	return c.opts.Cache
}

// BaseURL 返回配置的上游地址。
func (c *Client) BaseURL() *url.URL {
	return c.opts.URL
}

// FetchResult 是一次清单拉取的结果。NotModified 为真时 Manifest 为空，
// 调用方应继续使用本地缓存。
type FetchResult struct {
	Manifest    *model.Manifest
	Etag        string
	Fetched     int64
	NotModified bool
}

// FetchManifest 条件拉取上游清单。etag 非空时携带 If-None-Match；
// 熔断器打开时立刻以 unavailable 失败，不触发网络请求。
func (c *Client) FetchManifest(ctx context.Context, name, etag string) (*FetchResult, error) {
	if !c.breaker.Ready() {
		return nil, model.NewError(model.KindUnavailable, "uplink %s circuit open", c.opts.Name)
	}

	// 包名已转义，直接拼接字符串，避免 url.URL 对 %2f 的二次转义。
	endpoint := strings.TrimSuffix(c.opts.URL.String(), "/") + "/" + encodeName(name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, model.WrapError(model.KindInternal, err, "build uplink request")
	}
	req.Header.Set("Accept", "application/json")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
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
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		c.breaker.Success()
		return &FetchResult{Etag: etag, Fetched: time.Now().Unix(), NotModified: true}, nil

	case resp.StatusCode == http.StatusNotFound:
		// 包不存在不是 uplink 故障，不计入熔断。
		c.breaker.Success()
		return nil, model.NewError(model.KindNotFound, "package %s not found on uplink %s", name, c.opts.Name)

	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		c.breaker.Fail()
		return nil, model.NewError(model.KindUnavailable, "uplink %s returned status %d", c.opts.Name, resp.StatusCode)

	case resp.StatusCode != http.StatusOK:
		c.breaker.Success()
		return nil, model.NewError(model.KindInternal, "uplink %s returned status %d", c.opts.Name, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.breaker.Fail()
		return nil, model.WrapError(model.KindUnavailable, err, "read uplink %s response", c.opts.Name)
	}
	c.breaker.Success()

	manifest, err := model.ParseManifest(body)
	if err != nil {
		return nil, err
	}

	fetched := time.Now().Unix()
	newEtag := resp.Header.Get("Etag")

	// 给每个版本打上来源标注，并记录本 uplink 的缓存校验状态。
	for _, ver := range manifest.Versions {
		ver.Uplink = c.opts.Name
	}
	manifest.Normalize()
	manifest.Uplinks[c.opts.Name] = &model.UplinkRecord{Etag: newEtag, Fetched: fetched}

	c.logDebug(logrus.Fields{
		"action":   "uplink_fetch",
		"uplink":   c.opts.Name,
		"package":  name,
		"versions": len(manifest.Versions),
	}, "manifest fetched")

	return &FetchResult{Manifest: manifest, Etag: newEtag, Fetched: fetched}, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.opts.Username != "" && c.opts.Password != "" {
		req.SetBasicAuth(c.opts.Username, c.opts.Password)
	}
}

// encodeName 对包名做路径转义，scoped 包的 `/` 转义为 %2f。
func encodeName(name string) string {
	if model.IsScoped(name) {
		return strings.Replace(url.PathEscape(name), "%2F", "%2f", 1)
	}
	return url.PathEscape(name)
}

func (c *Client) logDebug(fields logrus.Fields, msg string) {
	if c.logger == nil {
		return
	}
	c.logger.WithFields(fields).Debug(msg)
}

// String 便于诊断输出。
func (c *Client) String() string {
	return fmt.Sprintf("uplink %s (%s)", c.opts.Name, c.opts.URL)
}
