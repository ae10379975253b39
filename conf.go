package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/viper"

	"chartiler/chart"
	"chartiler/prepared"
	"chartiler/tiler"
)

var conf *Conf

type Conf struct {
	App struct {
		Version string `mapstructure:"version"`
		Title   string `mapstructure:"title"`
	} `mapstructure:"app"`
	Output struct {
		Directory      string `mapstructure:"directory"`
		LogDir         string `mapstructure:"logDir"`
		OutputTerminal bool   `mapstructure:"outputTerminal"`
		MaxLogSize     int    `mapstructure:"maxLogSize"`
		MaxLogAge      int    `mapstructure:"maxLogAge"`
	} `mapstructure:"output"`
	Task struct {
		Workers        int `mapstructure:"workers"`
		BufSize        int `mapstructure:"bufSize"`
		CommitInterval int `mapstructure:"commitInterval"`
	} `mapstructure:"task"`
	Tiles struct {
		MinZoom        int `mapstructure:"minZoom"`
		MaxZoom        int `mapstructure:"maxZoom"`
		TileSize       int `mapstructure:"tileSize"`
		AlphaThreshold int `mapstructure:"alphaThreshold"`
		JPEGQuality    int `mapstructure:"jpegQuality"`
	} `mapstructure:"tiles"`
	Prepared struct {
		TempDir      string `mapstructure:"tempDir"`
		Codec        string `mapstructure:"codec"`
		MaxOverviews int    `mapstructure:"maxOverviews"`
		CacheBlocks  int    `mapstructure:"cacheBlocks"`
	} `mapstructure:"prepared"`
	Failures struct {
		SaveFilePath string `mapstructure:"saveFilePath"`
	} `mapstructure:"failures"`
	Charts []struct {
		Name     string `mapstructure:"name"`
		Category string `mapstructure:"category"`
		Raster   string `mapstructure:"raster"`
	} `mapstructure:"charts"`
}

func setDefaults() {
	viper.SetDefault("app.version", "v0.1.0")
	viper.SetDefault("app.title", "VFR Chart Tiler")
	viper.SetDefault("output.directory", "output")
	viper.SetDefault("output.outputTerminal", true)
	viper.SetDefault("output.maxLogSize", 100)
	viper.SetDefault("output.maxLogAge", 28)
	viper.SetDefault("task.workers", max(2, runtime.NumCPU()-2))
	viper.SetDefault("task.bufSize", 64)
	viper.SetDefault("task.commitInterval", 500)
	viper.SetDefault("tiles.minZoom", 6)
	viper.SetDefault("tiles.maxZoom", 12)
	viper.SetDefault("tiles.tileSize", 512)
	viper.SetDefault("tiles.alphaThreshold", 1)
	viper.SetDefault("tiles.jpegQuality", 75)
	viper.SetDefault("prepared.tempDir", os.TempDir())
	viper.SetDefault("prepared.codec", "zstd")
	viper.SetDefault("prepared.maxOverviews", 5)
	viper.SetDefault("prepared.cacheBlocks", 64)
}

// InitConf 初始化配置, 配置文件不存在时使用默认值
func InitConf(cfgFile string) error {
	setDefaults()
	viper.SetConfigType("toml")
	viper.AutomaticEnv()
	if cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			viper.SetConfigFile(cfgFile)
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("read config file(%s) error, details: %w", cfgFile, err)
			}
		} else {
			fmt.Fprintf(os.Stderr, "config file(%s) not exist, using defaults\n", cfgFile)
		}
	}
	conf = new(Conf)
	if err := viper.Unmarshal(conf); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// TilerOptions 配置 -> 转换参数
func (c *Conf) TilerOptions() (tiler.Options, error) {
	codec, err := prepared.ParseCodec(c.Prepared.Codec)
	if err != nil {
		return tiler.Options{}, err
	}
	if c.Tiles.AlphaThreshold < 0 || c.Tiles.AlphaThreshold > 254 {
		return tiler.Options{}, fmt.Errorf("tiles.alphaThreshold %d out of range 0..254", c.Tiles.AlphaThreshold)
	}
	opts := tiler.DefaultOptions()
	opts.MinZoom = c.Tiles.MinZoom
	opts.MaxZoom = c.Tiles.MaxZoom
	opts.TileSize = c.Tiles.TileSize
	opts.AlphaThreshold = uint8(c.Tiles.AlphaThreshold)
	opts.JPEGQuality = c.Tiles.JPEGQuality
	opts.Workers = c.Task.Workers
	opts.BufSize = c.Task.BufSize
	opts.CommitInterval = c.Task.CommitInterval
	opts.OutputDir = c.Output.Directory
	opts.TempDir = c.Prepared.TempDir
	opts.Codec = codec
	opts.MaxOverviews = c.Prepared.MaxOverviews
	opts.CacheBlocks = c.Prepared.CacheBlocks
	opts.Logger = log
	return opts, nil
}

// ChartRecords 配置文件中的航图列表
func (c *Conf) ChartRecords() []chart.Record {
	recs := make([]chart.Record, 0, len(c.Charts))
	for _, ch := range c.Charts {
		recs = append(recs, chart.Record{
			Name:       ch.Name,
			Category:   chart.Category(ch.Category),
			RasterPath: ch.Raster,
		})
	}
	return recs
}
