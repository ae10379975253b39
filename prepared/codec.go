package prepared

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Codec 块的无损压缩方式
type Codec uint8

const (
	None Codec = iota
	Zstd
	Snappy
)

func (c Codec) String() string {
	switch c {
	case None:
		return "none"
	case Zstd:
		return "zstd"
	case Snappy:
		return "snappy"
	}
	return fmt.Sprintf("codec(%d)", uint8(c))
}

// ParseCodec 解析配置中的压缩方式
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "zstd":
		return Zstd, nil
	case "snappy":
		return Snappy, nil
	case "none":
		return None, nil
	}
	return None, fmt.Errorf("unknown block codec %q", s)
}

// ErrChecksum 块校验失败
var ErrChecksum = errors.New("prepared block checksum mismatch")

// 块头: 1 字节压缩方式 + 4 字节 CRC32 (对未压缩数据)
const headerSize = 5

type encoder struct {
	codec Codec
	zenc  *zstd.Encoder
}

func newEncoder(c Codec) (*encoder, error) {
	e := &encoder{codec: c}
	switch c {
	case None, Snappy:
	case Zstd:
		zenc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, err
		}
		e.zenc = zenc
	default:
		return nil, fmt.Errorf("unsupported codec %s", c)
	}
	return e, nil
}

func (e *encoder) encode(data []byte) []byte {
	out := make([]byte, headerSize, headerSize+len(data)/2)
	out[0] = byte(e.codec)
	binary.LittleEndian.PutUint32(out[1:], crc32.ChecksumIEEE(data))
	switch e.codec {
	case Zstd:
		return e.zenc.EncodeAll(data, out)
	case Snappy:
		return append(out, snappy.Encode(nil, data)...)
	}
	return append(out, data...)
}

func (e *encoder) close() {
	if e.zenc != nil {
		e.zenc.Close()
	}
}

type decoder struct {
	zdec *zstd.Decoder
}

func newDecoder() (*decoder, error) {
	zdec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return &decoder{zdec: zdec}, nil
}

// decode 解压并校验, size 为期望的未压缩长度
func (d *decoder) decode(data []byte, size int) ([]byte, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("block too short (%d bytes)", len(data))
	}
	want := binary.LittleEndian.Uint32(data[1:headerSize])
	payload := data[headerSize:]
	var (
		out []byte
		err error
	)
	switch Codec(data[0]) {
	case None:
		out = payload
	case Zstd:
		out, err = d.zdec.DecodeAll(payload, make([]byte, 0, size))
	case Snappy:
		out, err = snappy.Decode(make([]byte, size), payload)
	default:
		return nil, fmt.Errorf("unknown block codec %d", data[0])
	}
	if err != nil {
		return nil, err
	}
	if len(out) != size {
		return nil, fmt.Errorf("block decoded to %d bytes, want %d", len(out), size)
	}
	if crc32.ChecksumIEEE(out) != want {
		return nil, ErrChecksum
	}
	return out, nil
}

func (d *decoder) close() {
	d.zdec.Close()
}
