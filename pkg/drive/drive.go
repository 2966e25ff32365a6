// Package drive is the remote file source: a Google Drive client
// authenticated with a service account, suited to headless deployments.
package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"golang.org/x/time/rate"

	"github.com/xhad/ragsync/internal/models"
	"github.com/xhad/ragsync/pkg/extractor"
)

// ErrMissingCredentials is returned when no service account file is
// configured.
var ErrMissingCredentials = errors.New("no service account credentials configured")

// MaxDownloadSize bounds a single file download or export (20MB).
const MaxDownloadSize = 20 * 1024 * 1024

const defaultPageSize = 100

type ClientConfig struct {
	ServiceAccountPath string
	PageSize           int64
	// RateLimit is requests per second against the Drive API. Google allows
	// 10/sec/user; stay under it.
	RateLimit float64
	Burst     int
}

// Client lists and fetches files from Google Drive.
type Client struct {
	config  ClientConfig
	service *gdrive.Service
	limiter *rate.Limiter
}

func NewWithConfig(ctx context.Context, config ClientConfig) (*Client, error) {
	if config.ServiceAccountPath == "" {
		config.ServiceAccountPath = os.Getenv("GOOGLE_SERVICE_ACCOUNT_PATH")
	}
	if config.ServiceAccountPath == "" {
		return nil, ErrMissingCredentials
	}
	if _, err := os.Stat(config.ServiceAccountPath); err != nil {
		return nil, fmt.Errorf("service account file not found: %w", err)
	}
	if config.PageSize <= 0 {
		config.PageSize = defaultPageSize
	}
	if config.RateLimit <= 0 {
		config.RateLimit = 8.0
	}
	if config.Burst <= 0 {
		config.Burst = 10
	}

	service, err := gdrive.NewService(ctx,
		option.WithCredentialsFile(config.ServiceAccountPath),
		option.WithScopes(gdrive.DriveMetadataReadonlyScope, gdrive.DriveReadonlyScope),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}

	c := &Client{
		config:  config,
		service: service,
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), config.Burst),
	}

	// Verify the credentials actually work before handing the client out.
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if _, err := service.About.Get().Fields("user").Context(ctx).Do(); err != nil {
		return nil, fmt.Errorf("drive authentication failed: %w", err)
	}

	return c, nil
}

const fileFields = "nextPageToken, files(id, name, mimeType, webViewLink, modifiedTime, createdTime, trashed)"

// ListAll returns every file in the folder and its subfolders, trashed items
// included.
func (c *Client) ListAll(ctx context.Context, folderID string) ([]models.RemoteFile, error) {
	return c.listRecursive(ctx, folderID, allQuery)
}

// ListChanged returns files in the folder tree modified or created after
// since. Trashed items are flagged rather than omitted so deletions can be
// reconciled.
func (c *Client) ListChanged(ctx context.Context, folderID string, since time.Time) ([]models.RemoteFile, error) {
	query := func(folder string) string { return changedQuery(folder, since) }
	if folderID == "" {
		files, err := c.listQuery(ctx, query(""))
		if err != nil {
			return nil, err
		}
		return files, nil
	}
	return c.listRecursive(ctx, folderID, query)
}

// ListTrashed returns the trashed files in the watched folder. Used by the
// out-of-band cleanup sweep, which runs independent of modification
// timestamps.
func (c *Client) ListTrashed(ctx context.Context, folderID string) ([]models.RemoteFile, error) {
	return c.listQuery(ctx, trashedQuery(folderID))
}

// listRecursive runs the per-folder query for the folder and every subfolder
// beneath it.
func (c *Client) listRecursive(ctx context.Context, folderID string, query func(string) string) ([]models.RemoteFile, error) {
	files, err := c.listQuery(ctx, query(folderID))
	if err != nil {
		return nil, err
	}

	subfolders, err := c.listFolders(ctx, folderID)
	if err != nil {
		return nil, err
	}
	for _, sub := range subfolders {
		subFiles, err := c.listRecursive(ctx, sub, query)
		if err != nil {
			return nil, err
		}
		files = append(files, subFiles...)
	}

	return files, nil
}

func (c *Client) listQuery(ctx context.Context, query string) ([]models.RemoteFile, error) {
	var files []models.RemoteFile
	pageToken := ""

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		call := c.service.Files.List().
			Q(query).
			PageSize(c.config.PageSize).
			Fields(fileFields).
			SupportsAllDrives(true).
			IncludeItemsFromAllDrives(true)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		result, err := call.Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list files: %w", err)
		}

		for _, f := range result.Files {
			if f.MimeType == extractor.MimeTypeFolder {
				continue
			}
			files = append(files, toRemoteFile(f))
		}

		if result.NextPageToken == "" {
			return files, nil
		}
		pageToken = result.NextPageToken
	}
}

func (c *Client) listFolders(ctx context.Context, folderID string) ([]string, error) {
	var folders []string
	pageToken := ""

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		call := c.service.Files.List().
			Q(folderQuery(folderID)).
			PageSize(c.config.PageSize).
			Fields("nextPageToken, files(id)").
			SupportsAllDrives(true).
			IncludeItemsFromAllDrives(true)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		result, err := call.Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list subfolders: %w", err)
		}

		for _, f := range result.Files {
			folders = append(folders, f.Id)
		}

		if result.NextPageToken == "" {
			return folders, nil
		}
		pageToken = result.NextPageToken
	}
}

// Download fetches a file's bytes. Workspace types that cannot be served
// natively are exported to their interchange format (Docs and Slides to
// HTML, Sheets to CSV); everything else is downloaded as-is.
func (c *Client) Download(ctx context.Context, file models.RemoteFile) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var (
		resp *http.Response
		err  error
	)
	if exportMime, ok := extractor.ExportMimeTypes[file.MimeType]; ok {
		resp, err = c.service.Files.Export(file.ID, exportMime).Context(ctx).Download()
	} else {
		resp, err = c.service.Files.Get(file.ID).Context(ctx).Download()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to download file %s: %w", file.ID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxDownloadSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", file.ID, err)
	}

	return data, nil
}

func toRemoteFile(f *gdrive.File) models.RemoteFile {
	return models.RemoteFile{
		ID:           f.Id,
		Name:         f.Name,
		MimeType:     f.MimeType,
		WebViewLink:  f.WebViewLink,
		ModifiedTime: f.ModifiedTime,
		CreatedTime:  f.CreatedTime,
		Trashed:      f.Trashed,
	}
}
