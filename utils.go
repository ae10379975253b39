package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulmach/orb/maptile"
	pb "gopkg.in/cheggaaa/pb.v1"

	"chartiler/mbtiles"
)

func saveToFiles(root string, t maptile.Tile, ext string, data []byte) error {
	dir := filepath.Join(root, fmt.Sprintf(`%d`, t.Z), fmt.Sprintf(`%d`, t.X))
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return err
	}
	fileName := filepath.Join(dir, fmt.Sprintf(`%d.%s`, t.Y, ext))
	return os.WriteFile(fileName, data, 0o644)
}

// exportTiles 把瓦片库导出为 z/x/y.ext 文件
func exportTiles(path, root string) error {
	r, err := mbtiles.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	md, err := r.Metadata()
	if err != nil {
		return err
	}
	counts, err := r.ZoomCounts()
	if err != nil {
		return err
	}
	var total int64
	for _, n := range counts {
		total += n
	}
	bar := pb.New64(total).Prefix("Export : ")
	bar.Start()
	err = r.Walk(func(t maptile.Tile, data []byte) error {
		ext := mbtiles.DetectFormat(data)
		if ext == "" {
			ext = md["format"]
		}
		bar.Increment()
		return saveToFiles(root, t, ext, data)
	})
	bar.FinishPrint(fmt.Sprintf("%s exported to %s", path, root))
	return err
}
