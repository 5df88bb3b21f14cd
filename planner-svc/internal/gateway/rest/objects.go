package rest

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"

	"whattoeat/planner-svc/internal/gateway"
)

func escapePath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// Upload stores the object and returns its public URL. When the bucket was
// never created the file is returned inline as a data URL instead.
func (c *Client) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error) {
	err := c.cfg.Retry.Do(ctx, func() error {
		return c.do(ctx, request{
			op:     "upload",
			table:  bucket,
			method: http.MethodPost,
			path:   "/storage/v1/object/" + url.PathEscape(bucket) + "/" + escapePath(path),
			body:   bytes.NewReader(data),
			headers: map[string]string{
				"Content-Type":  contentType,
				"Cache-Control": "3600",
				"x-upsert":      "false",
			},
		}, nil)
	})
	if gateway.IsBucketMissing(err) {
		c.logger.Warnw("storage bucket missing, embedding image", "bucket", bucket, "path", path)
		return gateway.DataURL(contentType, data), nil
	}
	if err != nil {
		return "", err
	}
	return c.PublicURL(bucket, path), nil
}

func (c *Client) PublicURL(bucket, path string) string {
	return c.cfg.URL + "/storage/v1/object/public/" + url.PathEscape(bucket) + "/" + escapePath(path)
}
