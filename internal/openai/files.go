package openai

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"oaistream/internal/core"
	"oaistream/internal/llmclient"
)

const defaultUploadFilename = "upload.jsonl"

// UploadFile uploads a file using the multipart files API.
func (c *Client) UploadFile(ctx context.Context, req *core.FileCreateRequest) (*core.FileObject, error) {
	if req == nil {
		return nil, core.NewInvalidRequestError("request is required", nil)
	}
	if strings.TrimSpace(req.Purpose) == "" {
		return nil, core.NewInvalidRequestError("purpose is required", nil)
	}
	if len(req.Content) == 0 {
		return nil, core.NewInvalidRequestError("file is required", nil)
	}

	filename := strings.TrimSpace(req.Filename)
	if filename == "" {
		filename = defaultUploadFilename
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("purpose", strings.TrimSpace(req.Purpose)); err != nil {
		return nil, core.NewInvalidRequestError("failed to write purpose field", err)
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, core.NewInvalidRequestError("failed to create multipart file field", err)
	}
	if _, err := part.Write(req.Content); err != nil {
		return nil, core.NewInvalidRequestError("failed to write file content", err)
	}
	if err := writer.Close(); err != nil {
		return nil, core.NewInvalidRequestError("failed to finalize multipart payload", err)
	}

	var file core.FileObject
	if err := c.client.Do(ctx, llmclient.Request{
		Method:    http.MethodPost,
		Endpoint:  "/files",
		Operation: "files.create",
		RawBody:   buf.Bytes(),
		Headers: map[string]string{
			"Content-Type": writer.FormDataContentType(),
		},
	}, &file); err != nil {
		return nil, err
	}
	if file.Object == "" {
		file.Object = "file"
	}
	return &file, nil
}

// ListFiles lists uploaded files, optionally filtered by purpose.
func (c *Client) ListFiles(ctx context.Context, purpose string, limit int, after string) (*core.FileListResponse, error) {
	values := url.Values{}
	if trimmed := strings.TrimSpace(purpose); trimmed != "" {
		values.Set("purpose", trimmed)
	}
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	if trimmed := strings.TrimSpace(after); trimmed != "" {
		values.Set("after", trimmed)
	}

	endpoint := "/files"
	if encoded := values.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	var resp core.FileListResponse
	if err := c.client.Do(ctx, llmclient.Request{
		Method:    http.MethodGet,
		Endpoint:  endpoint,
		Operation: "files.list",
	}, &resp); err != nil {
		return nil, err
	}
	if resp.Object == "" {
		resp.Object = "list"
	}
	return &resp, nil
}

// RetrieveFile retrieves a file object by id.
func (c *Client) RetrieveFile(ctx context.Context, id string) (*core.FileObject, error) {
	id, err := requireID("file", id)
	if err != nil {
		return nil, err
	}

	var resp core.FileObject
	if err := c.client.Do(ctx, llmclient.Request{
		Method:    http.MethodGet,
		Endpoint:  "/files/" + url.PathEscape(id),
		Operation: "files.retrieve",
	}, &resp); err != nil {
		return nil, err
	}
	if resp.Object == "" {
		resp.Object = "file"
	}
	return &resp, nil
}

// DeleteFile deletes a file by id.
func (c *Client) DeleteFile(ctx context.Context, id string) (*core.DeletionStatus, error) {
	id, err := requireID("file", id)
	if err != nil {
		return nil, err
	}

	var resp core.DeletionStatus
	if err := c.client.Do(ctx, llmclient.Request{
		Method:    http.MethodDelete,
		Endpoint:  "/files/" + url.PathEscape(id),
		Operation: "files.delete",
	}, &resp); err != nil {
		return nil, err
	}
	if resp.Object == "" {
		resp.Object = "file"
	}
	return &resp, nil
}

// FileContent fetches the raw bytes of a file.
func (c *Client) FileContent(ctx context.Context, id string) (*core.FileContentResponse, error) {
	id, err := requireID("file", id)
	if err != nil {
		return nil, err
	}

	raw, err := c.client.DoRaw(ctx, llmclient.Request{
		Method:    http.MethodGet,
		Endpoint:  "/files/" + url.PathEscape(id) + "/content",
		Operation: "files.content",
	})
	if err != nil {
		return nil, err
	}

	contentType := raw.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &core.FileContentResponse{
		ID:          id,
		ContentType: contentType,
		Data:        raw.Body,
	}, nil
}
