// Package artifact implements the artifact transfer plugin operations
// hosted by the plugin process. Transfers stream to and from
// service-signed URLs so the worker never holds artifact bytes.
package artifact

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/outpost-run/outpost/internal/pluginhost"
)

const (
	OperationUpload   = "artifact-upload"
	OperationDownload = "artifact-download"
)

// Operations returns the registry served by the plugin process.
func Operations(httpClient *http.Client) map[string]pluginhost.Operation {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	t := &transfer{httpClient: httpClient}
	return map[string]pluginhost.Operation{
		OperationUpload:   t.upload,
		OperationDownload: t.download,
	}
}

type transfer struct {
	httpClient *http.Client
}

// upload streams the file at inputs["path"] to the signed URL in
// inputs["url"] with a single PUT.
func (t *transfer) upload(ctx context.Context, inputs, variables map[string]string, progress func(string)) (map[string]string, error) {
	path := inputs["path"]
	url := inputs["url"]
	if path == "" || url == "" {
		return nil, fmt.Errorf("upload requires path and url inputs")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat artifact: %w", err)
	}

	progress(fmt.Sprintf("uploading %s (%d bytes)", filepath.Base(path), info.Size()))

	request, err := http.NewRequestWithContext(ctx, http.MethodPut, url, file)
	if err != nil {
		return nil, err
	}
	request.ContentLength = info.Size()
	request.Header.Set("Content-Type", "application/octet-stream")

	response, err := t.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 4096))
		return nil, fmt.Errorf("upload rejected with status %d: %s", response.StatusCode, body)
	}

	progress("upload complete")

	return map[string]string{
		"size": strconv.FormatInt(info.Size(), 10),
	}, nil
}

// download streams the signed URL in inputs["url"] to inputs["path"],
// creating parent directories as needed.
func (t *transfer) download(ctx context.Context, inputs, variables map[string]string, progress func(string)) (map[string]string, error) {
	path := inputs["path"]
	url := inputs["url"]
	if path == "" || url == "" {
		return nil, fmt.Errorf("download requires path and url inputs")
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, err
	}

	response, err := t.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download rejected with status %d", response.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create destination: %w", err)
	}
	defer file.Close()

	progress(fmt.Sprintf("downloading to %s", path))

	written, err := io.Copy(file, response.Body)
	if err != nil {
		return nil, fmt.Errorf("download interrupted: %w", err)
	}

	if err := file.Sync(); err != nil {
		return nil, err
	}

	progress(fmt.Sprintf("downloaded %d bytes", written))

	return map[string]string{
		"path": path,
		"size": strconv.FormatInt(written, 10),
	}, nil
}
