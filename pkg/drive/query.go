package drive

import (
	"fmt"
	"time"

	"github.com/xhad/ragsync/pkg/extractor"
)

// driveTimeFormat is the RFC 3339 shape the Drive query language expects.
const driveTimeFormat = "2006-01-02T15:04:05.000Z"

func allQuery(folderID string) string {
	return fmt.Sprintf("'%s' in parents", folderID)
}

func changedQuery(folderID string, since time.Time) string {
	timeStr := since.UTC().Format(driveTimeFormat)
	query := fmt.Sprintf("(modifiedTime > '%s' or createdTime > '%s')", timeStr, timeStr)
	if folderID != "" {
		query += fmt.Sprintf(" and '%s' in parents", folderID)
	}
	return query
}

func trashedQuery(folderID string) string {
	query := "trashed=true"
	if folderID != "" {
		query += fmt.Sprintf(" and '%s' in parents", folderID)
	}
	return query
}

func folderQuery(folderID string) string {
	return fmt.Sprintf("'%s' in parents and mimeType = '%s'", folderID, extractor.MimeTypeFolder)
}
