// Package mbtiles 读写 MBTiles 1.1 瓦片库 (SQLite).
// 对外一律使用 XYZ 瓦片行号, 库内按 TMS 存储.
package mbtiles

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	_ "github.com/mattn/go-sqlite3"
)

// 瓦片格式
const (
	PNG   = "png"
	JPG   = "jpg"
	Mixed = "mixed"
)

var (
	// ErrMissingTable 缺少 tiles 或 metadata 表
	ErrMissingTable = errors.New("missing table")
	// ErrEmptyTable 表中没有数据
	ErrEmptyTable = errors.New("empty table")
	// ErrInvalidStore 文件不存在、为空或不是 SQLite 数据库
	ErrInvalidStore = errors.New("invalid tile store")
)

const schema = `
CREATE TABLE IF NOT EXISTS tiles (
	zoom_level INTEGER,
	tile_column INTEGER,
	tile_row INTEGER,
	tile_data BLOB
);
CREATE TABLE IF NOT EXISTS metadata (
	name TEXT,
	value TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS tile_index ON tiles (zoom_level, tile_column, tile_row);
`

var pragmas = []string{
	"PRAGMA journal_mode=MEMORY",
	"PRAGMA synchronous=OFF",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA cache_size=-50000",
}

// Metadata 瓦片库元数据
type Metadata struct {
	Name        string
	Description string
	// Format png, jpg 或 mixed
	Format  string
	Bounds  orb.Bound
	MinZoom int
	MaxZoom int
}

// Center 范围中心, 级别取 MinZoom
func (md Metadata) Center() (orb.Point, int) {
	return md.Bounds.Center(), md.MinZoom
}

func (md Metadata) rows() [][2]string {
	c, z := md.Center()
	return [][2]string{
		{"name", md.Name},
		{"type", "overlay"},
		{"version", "1.1"},
		{"description", md.Description},
		{"format", md.Format},
		{"bounds", fmt.Sprintf("%s,%s,%s,%s", ftoa(md.Bounds.Min[0]), ftoa(md.Bounds.Min[1]), ftoa(md.Bounds.Max[0]), ftoa(md.Bounds.Max[1]))},
		{"center", fmt.Sprintf("%s,%s,%d", ftoa(c[0]), ftoa(c[1]), z)},
		{"minzoom", strconv.Itoa(md.MinZoom)},
		{"maxzoom", strconv.Itoa(md.MaxZoom)},
	}
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// flipY XYZ 行号与 TMS 行号互换
func flipY(z maptile.Zoom, y uint32) uint32 {
	return (uint32(1)<<z - 1) - y
}

// DetectFormat 根据文件头判断瓦片格式
func DetectFormat(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return PNG
	case bytes.HasPrefix(data, []byte{0xff, 0xd8, 0xff}):
		return JPG
	}
	return ""
}

func zoomCounts(db *sql.DB) (map[int]int64, error) {
	rows, err := db.Query("SELECT zoom_level, COUNT(*) FROM tiles GROUP BY zoom_level")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[int]int64)
	for rows.Next() {
		var z int
		var n int64
		if err := rows.Scan(&z, &n); err != nil {
			return nil, err
		}
		counts[z] = n
	}
	return counts, rows.Err()
}
