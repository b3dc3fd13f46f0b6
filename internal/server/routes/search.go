package routes

import (
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/npm-hub/internal/federation"
)

// searchObject 是 /-/v1/search 响应中的单个条目。
type searchObject struct {
	Package federation.SearchPackageBody `json:"package"`
}

// handleSearch 对应 GET /-/v1/search?text=...：消费联邦层的结果流后
// 组装 npm 客户端期望的响应结构。
func (d *Deps) handleSearch(c fiber.Ctx) error {
	query := c.Query("text")

	results, err := d.Registry.Search(requestContext(c), query)
	if err != nil {
		return respondFailure(c, err)
	}

	objects := []searchObject{}
	for body := range results {
		objects = append(objects, searchObject{Package: body})
	}

	return c.JSON(fiber.Map{
		"objects": objects,
		"total":   len(objects),
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}
