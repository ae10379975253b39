package mbtiles

import (
	"database/sql"
	"fmt"
	"os"
	"sort"
	"strconv"
)

// Verification 校验结果
type Verification struct {
	Path       string
	Size       int64
	Tiles      int64
	ZoomCounts map[int]int64
	// MinZoom, MaxZoom 实际存在瓦片的级别范围
	MinZoom int
	MaxZoom int
	// Reconciled 元数据中的级别范围是否被修正
	Reconciled bool
}

// Zooms 有瓦片的级别, 升序
func (v *Verification) Zooms() []int {
	zs := make([]int, 0, len(v.ZoomCounts))
	for z := range v.ZoomCounts {
		zs = append(zs, z)
	}
	sort.Ints(zs)
	return zs
}

// Verify 检查瓦片库是否可用, 并把元数据中的 minzoom/maxzoom 修正为实际范围
func Verify(path string) (*Verification, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStore, err)
	}
	if fi.Size() == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrInvalidStore, path)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStore, err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	for _, table := range []string{"tiles", "metadata"} {
		var n int
		err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&n)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidStore, err)
		}
		if n == 0 {
			return nil, fmt.Errorf("%w: %s", ErrMissingTable, table)
		}
	}
	var metaRows int
	if err := db.QueryRow("SELECT COUNT(*) FROM metadata").Scan(&metaRows); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStore, err)
	}
	if metaRows == 0 {
		return nil, fmt.Errorf("%w: metadata", ErrEmptyTable)
	}

	counts, err := zoomCounts(db)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStore, err)
	}
	if len(counts) == 0 {
		return nil, fmt.Errorf("%w: tiles", ErrEmptyTable)
	}
	v := &Verification{Path: path, Size: fi.Size(), ZoomCounts: counts}
	zs := v.Zooms()
	v.MinZoom, v.MaxZoom = zs[0], zs[len(zs)-1]
	for _, n := range counts {
		v.Tiles += n
	}

	for name, z := range map[string]int{"minzoom": v.MinZoom, "maxzoom": v.MaxZoom} {
		changed, err := setMeta(db, name, strconv.Itoa(z))
		if err != nil {
			return nil, fmt.Errorf("update %s: %w", name, err)
		}
		v.Reconciled = v.Reconciled || changed
	}
	return v, nil
}

// setMeta 更新或插入元数据, 返回值是否发生变化
func setMeta(db *sql.DB, name, value string) (bool, error) {
	var cur string
	err := db.QueryRow("SELECT value FROM metadata WHERE name = ?", name).Scan(&cur)
	switch {
	case err == sql.ErrNoRows:
		_, err = db.Exec("INSERT INTO metadata (name, value) VALUES (?, ?)", name, value)
		return err == nil, err
	case err != nil:
		return false, err
	case cur == value:
		return false, nil
	}
	_, err = db.Exec("UPDATE metadata SET value = ? WHERE name = ?", value, name)
	return err == nil, err
}
