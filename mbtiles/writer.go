package mbtiles

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/paulmach/orb/maptile"
)

// Writer 单写入者. 只能由一个协程使用.
type Writer struct {
	Path        string
	db          *sql.DB
	tx          *sql.Tx
	stmt        *sql.Stmt
	commitEvery int
	pending     int
	count       int64
	bytes       int64
}

// Create 新建瓦片库, 已存在的同名文件会被删除
func Create(path string, commitEvery int) (*Writer, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// pragma 只对当前连接生效
	db.SetMaxOpenConns(1)
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	if commitEvery <= 0 {
		commitEvery = 500
	}
	w := &Writer{Path: path, db: db, commitEvery: commitEvery}
	if err := w.begin(); err != nil {
		db.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) begin() error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare("INSERT OR REPLACE INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return err
	}
	w.tx, w.stmt = tx, stmt
	return nil
}

func (w *Writer) commit() error {
	if w.tx == nil {
		return nil
	}
	w.stmt.Close()
	err := w.tx.Commit()
	w.tx, w.stmt = nil, nil
	w.pending = 0
	return err
}

// PutTile 写入一个 XYZ 瓦片, 每 commitEvery 个提交一次
func (w *Writer) PutTile(t maptile.Tile, data []byte) error {
	if w.tx == nil {
		if err := w.begin(); err != nil {
			return err
		}
	}
	if _, err := w.stmt.Exec(int(t.Z), int(t.X), int(flipY(t.Z, t.Y)), data); err != nil {
		return fmt.Errorf("insert tile %d/%d/%d: %w", t.Z, t.X, t.Y, err)
	}
	w.count++
	w.bytes += int64(len(data))
	w.pending++
	if w.pending >= w.commitEvery {
		return w.commit()
	}
	return nil
}

// Count 已写入的瓦片数
func (w *Writer) Count() int64 { return w.count }

// Bytes 已写入的瓦片字节数
func (w *Writer) Bytes() int64 { return w.bytes }

// WriteMetadata 提交剩余瓦片并写入元数据 (覆盖旧值)
func (w *Writer) WriteMetadata(md Metadata) error {
	if err := w.commit(); err != nil {
		return err
	}
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM metadata"); err != nil {
		tx.Rollback()
		return err
	}
	for _, row := range md.rows() {
		if _, err := tx.Exec("INSERT INTO metadata (name, value) VALUES (?, ?)", row[0], row[1]); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert metadata %s: %w", row[0], err)
		}
	}
	return tx.Commit()
}

// Close 提交并关闭
func (w *Writer) Close() error {
	err := w.commit()
	if cerr := w.db.Close(); err == nil {
		err = cerr
	}
	return err
}

// Discard 放弃写入并删除文件
func (w *Writer) Discard() error {
	if w.tx != nil {
		w.stmt.Close()
		w.tx.Rollback()
		w.tx, w.stmt = nil, nil
	}
	w.db.Close()
	if err := os.Remove(w.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
