package mbtiles

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/paulmach/orb/maptile"
)

// Reader 只读打开的瓦片库
type Reader struct {
	Path string
	db   *sql.DB
}

// Open 以只读方式打开瓦片库
func Open(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStore, err)
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrInvalidStore, err)
	}
	return &Reader{Path: path, db: db}, nil
}

// Close 关闭数据库
func (r *Reader) Close() error {
	return r.db.Close()
}

// Metadata 全部元数据
func (r *Reader) Metadata() (map[string]string, error) {
	rows, err := r.db.Query("SELECT name, value FROM metadata")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	md := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		md[k] = v
	}
	return md, rows.Err()
}

// Tile 按 XYZ 地址读取瓦片, 不存在时 ok 为 false
func (r *Reader) Tile(t maptile.Tile) (data []byte, ok bool, err error) {
	err = r.db.QueryRow("SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?",
		int(t.Z), int(t.X), int(flipY(t.Z, t.Y))).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Walk 按级别、列、行顺序遍历全部瓦片
func (r *Reader) Walk(fn func(t maptile.Tile, data []byte) error) error {
	rows, err := r.db.Query("SELECT zoom_level, tile_column, tile_row, tile_data FROM tiles ORDER BY zoom_level, tile_column, tile_row")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var z, x, y uint32
		var data []byte
		if err := rows.Scan(&z, &x, &y, &data); err != nil {
			return err
		}
		zoom := maptile.Zoom(z)
		if err := fn(maptile.New(x, flipY(zoom, y), zoom), data); err != nil {
			return err
		}
	}
	return rows.Err()
}

// ZoomCounts 每个级别的瓦片数
func (r *Reader) ZoomCounts() (map[int]int64, error) {
	return zoomCounts(r.db)
}
