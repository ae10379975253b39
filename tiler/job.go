package tiler

import (
	"fmt"

	"github.com/paulmach/orb/maptile"
)

// Job 一个待渲染的瓦片
type Job struct {
	Tile      maptile.Tile
	Size      int
	Threshold uint8
}

func (j Job) String() string {
	return fmt.Sprintf("%d-%d-%d", j.Tile.Z, j.Tile.X, j.Tile.Y)
}

// Status 渲染结果状态
type Status int

const (
	Rendered Status = iota
	Dropped
	Failed
)

func (s Status) String() string {
	switch s {
	case Rendered:
		return "rendered"
	case Dropped:
		return "dropped"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Result 渲染结果. Rendered 时 Data 为编码后的瓦片, Failed 时 Err 说明原因.
type Result struct {
	Job      Job
	Status   Status
	Data     []byte
	HasAlpha bool
	Err      error
}
