// Package export 把采集数据序列化为 CSV / JSON 并以临时制品的形式保存，供下载。
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"northsea/internal/apperr"
	"northsea/internal/model"

	"github.com/goccy/go-json"
)

// Format 导出格式。
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat 校验导出格式，大小写不敏感。
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return "", apperr.Validation("format must be csv or json", nil)
}

// ContentType returns the MIME type served for the format.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/json; charset=utf-8"
}

var csvHeader = []string{
	"id", "taskId", "type", "content", "authorName", "authorFollowers",
	"likes", "comments", "shares", "status", "publishTime", "createdAt",
}

// Encode 将数据行序列化为指定格式。
func Encode(format Format, rows []model.CollectedData) ([]byte, error) {
	switch format {
	case FormatCSV:
		return encodeCSV(rows)
	case FormatJSON:
		if rows == nil {
			rows = []model.CollectedData{}
		}
		return json.MarshalIndent(rows, "", "  ")
	}
	return nil, apperr.Validation("format must be csv or json", nil)
}

func encodeCSV(rows []model.CollectedData) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, row := range rows {
		author := row.Author.Data()
		counts := row.Interactions.Data()
		record := []string{
			strconv.FormatUint(uint64(row.ID), 10),
			strconv.FormatUint(uint64(row.TaskID), 10),
			string(row.Type),
			row.Content,
			author.Name,
			strconv.FormatInt(author.Followers, 10),
			strconv.FormatInt(counts.Likes, 10),
			strconv.FormatInt(counts.Comments, 10),
			strconv.FormatInt(counts.Shares, 10),
			string(row.Status),
			formatTime(row.PublishTime),
			row.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row %d: %w", row.ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
