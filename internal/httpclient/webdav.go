package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/beevik/etree"
	"github.com/cyp0633/libcaldora-sync/internal/xml"
)

// Precondition selects the conditional header of a PUT.
type Precondition struct {
	// IfMatch, when set, makes the write fail with 412 unless the stored
	// version still has this etag.
	IfMatch string
	// IfNoneMatch makes the write fail with 412 if the object exists.
	IfNoneMatch bool
}

// DoPROPFIND performs a PROPFIND request
func (c *httpClientWrapper) DoPROPFIND(ctx context.Context, urlStr string, depth int, props ...xml.Name) (*xml.MultistatusResponse, error) {
	body, err := xml.Propfind(props...).WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to encode PROPFIND body: %w", err)
	}
	resp, err := c.do(ctx, "PROPFIND", urlStr, bytes.NewReader(body), xmlHeader(depth), http.StatusMultiStatus)
	if err != nil {
		return nil, err
	}
	return readMultistatus(resp)
}

// DoREPORT executes a CalDAV or CardDAV REPORT request
func (c *httpClientWrapper) DoREPORT(ctx context.Context, urlStr string, depth int, query *etree.Document) (*xml.MultistatusResponse, error) {
	body, err := query.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to encode REPORT query: %w", err)
	}
	resp, err := c.do(ctx, "REPORT", urlStr, bytes.NewReader(body), xmlHeader(depth), http.StatusMultiStatus)
	if err != nil {
		return nil, err
	}
	return readMultistatus(resp)
}

// DoPROPPATCH sets collection properties. A 207 whose propstats are not all
// successful is reported as an error.
func (c *httpClientWrapper) DoPROPPATCH(ctx context.Context, urlStr string, update *etree.Document) (*xml.MultistatusResponse, error) {
	body, err := update.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to encode PROPPATCH body: %w", err)
	}
	resp, err := c.do(ctx, "PROPPATCH", urlStr, bytes.NewReader(body), xmlHeader(-1), http.StatusMultiStatus, http.StatusOK, http.StatusNoContent)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusMultiStatus {
		resp.Body.Close()
		return &xml.MultistatusResponse{}, nil
	}

	ms, err := readMultistatus(resp)
	if err != nil {
		return nil, err
	}
	for _, r := range ms.Responses {
		for _, ps := range r.PropStats {
			if code := xml.StatusCode(ps.Status); code < 200 || code >= 300 {
				return ms, &StatusError{Method: "PROPPATCH", URL: urlStr, StatusCode: code, Status: ps.Status}
			}
		}
	}
	return ms, nil
}

// DoPUT uploads an object and returns the etag the server reports, which
// may be empty.
func (c *httpClientWrapper) DoPUT(ctx context.Context, urlStr string, cond Precondition, contentType string, data []byte) (string, error) {
	h := http.Header{}
	h.Set("Content-Type", contentType)
	if cond.IfMatch != "" {
		h.Set("If-Match", cond.IfMatch)
	}
	if cond.IfNoneMatch {
		h.Set("If-None-Match", "*")
	}

	resp, err := c.do(ctx, http.MethodPut, urlStr, bytes.NewReader(data), h, http.StatusOK, http.StatusCreated, http.StatusNoContent)
	if err != nil {
		return "", err
	}
	resp.Body.Close()
	return resp.Header.Get("ETag"), nil
}

// DoDELETE sends a DELETE request with If-Match header for optimistic locking
func (c *httpClientWrapper) DoDELETE(ctx context.Context, urlStr string, etag string) error {
	h := http.Header{}
	if etag != "" {
		h.Set("If-Match", etag)
	}
	resp, err := c.do(ctx, http.MethodDelete, urlStr, nil, h, http.StatusOK, http.StatusNoContent, http.StatusAccepted)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
