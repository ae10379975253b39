package tiler

import "errors"

// 转换错误分类. 致命错误都包装其中之一, 可用 errors.Is 判断.
var (
	// ErrInputUnreadable 源栅格无法打开或解析
	ErrInputUnreadable = errors.New("input raster unreadable")
	// ErrOptimizationFailed 分块栅格或概览构建失败
	ErrOptimizationFailed = errors.New("raster optimization failed")
	// ErrTileDecode 单个瓦片读取或编码失败, 只计入报告
	ErrTileDecode = errors.New("tile decode failed")
	// ErrEmptyOutput 没有写入任何瓦片
	ErrEmptyOutput = errors.New("no tiles written")
	// ErrStoreCorrupt 瓦片库无法写入或校验失败
	ErrStoreCorrupt = errors.New("tile store corrupt")
)
