// Package chart 航图记录: 名称、类别、源栅格路径和输出路径.
package chart

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/BurntSushi/toml"
)

// Category 航图类别
type Category string

const (
	Sectional Category = "sectional"
	Terminal  Category = "terminal"
)

// Prefix 输出文件名前缀: sectional -> S, terminal -> T, 其他取首字母大写
func (c Category) Prefix() string {
	switch c {
	case Sectional:
		return "S"
	case Terminal:
		return "T"
	case "":
		return "U"
	}
	r, _ := utf8.DecodeRuneInString(string(c))
	return string(unicode.ToUpper(r))
}

// Record 一张待转换的航图
type Record struct {
	Name       string   `toml:"name"`
	Category   Category `toml:"category"`
	RasterPath string   `toml:"raster"`
	// OutputPath 为空时由 FileName 和输出目录决定
	OutputPath string `toml:"output"`
}

// FileName 输出文件名, 如 S_Seattle.mbtiles
func (r Record) FileName() string {
	return r.Category.Prefix() + "_" + Sanitize(r.Name) + ".mbtiles"
}

// Output 输出路径
func (r Record) Output(dir string) string {
	if r.OutputPath != "" {
		return r.OutputPath
	}
	return filepath.Join(dir, r.FileName())
}

func (r Record) String() string {
	return fmt.Sprintf("%s (%s)", r.Name, r.Category)
}

var (
	unsafeChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	spaces      = regexp.MustCompile(`\s+`)
)

// Sanitize 替换文件名中的非法字符, 空白压缩为单个下划线
func Sanitize(name string) string {
	name = unsafeChars.ReplaceAllString(name, "_")
	name = spaces.ReplaceAllString(name, "_")
	return strings.Trim(name, "_")
}

var routingPrefixes = []string{"T_", "S_", "terminal_", "sectional_"}

// DisplayName 去掉文件名前缀后的航图名, 用于瓦片库元数据
func DisplayName(stem string) string {
	for {
		trimmed := stem
		for _, p := range routingPrefixes {
			trimmed = strings.TrimPrefix(trimmed, p)
		}
		if trimmed == stem {
			return stem
		}
		stem = trimmed
	}
}

// Stem 不含目录和扩展名的文件名
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

type manifest struct {
	Charts []Record `toml:"chart"`
}

// LoadManifest 读取 TOML 清单中的 [[chart]] 表.
// 相对路径按清单所在目录解析.
func LoadManifest(path string) ([]Record, error) {
	var m manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, fmt.Errorf("load manifest %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	for i := range m.Charts {
		r := &m.Charts[i]
		if r.Name == "" || r.RasterPath == "" {
			return nil, fmt.Errorf("manifest %s: chart #%d needs name and raster", path, i+1)
		}
		r.Category = Category(strings.ToLower(string(r.Category)))
		if !filepath.IsAbs(r.RasterPath) {
			r.RasterPath = filepath.Join(dir, r.RasterPath)
		}
		if r.OutputPath != "" && !filepath.IsAbs(r.OutputPath) {
			r.OutputPath = filepath.Join(dir, r.OutputPath)
		}
	}
	return m.Charts, nil
}
