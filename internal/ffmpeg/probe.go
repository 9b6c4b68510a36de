package ffmpeg

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/smazurov/virtualcam/internal/decoder"
)

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

type probeStream struct {
	Index        int    `json:"index"`
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	RFrameRate   string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
	Duration     string `json:"duration"`
}

// ParseProbe converts ffprobe JSON into tracks. The MIME of a track is its
// codec type and codec name, e.g. video/h264.
func ParseProbe(data []byte) ([]decoder.Track, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	formatDuration := parseSeconds(out.Format.Duration)
	tracks := make([]decoder.Track, 0, len(out.Streams))
	for _, s := range out.Streams {
		kind := s.CodecType
		if kind == "" {
			kind = "application"
		}
		t := decoder.Track{
			Index:    s.Index,
			MIME:     kind + "/" + s.CodecName,
			Codec:    s.CodecName,
			Width:    s.Width,
			Height:   s.Height,
			Duration: parseSeconds(s.Duration),
		}
		if t.Duration == 0 {
			t.Duration = formatDuration
		}
		if kind == "video" {
			t.FrameRate = parseRate(s.AvgFrameRate)
			if t.FrameRate == 0 {
				t.FrameRate = parseRate(s.RFrameRate)
			}
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

// parseRate parses ffprobe rationals such as "30000/1001". Zero means unknown.
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v < 0 {
			return 0
		}
		return v
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 || n <= 0 {
		return 0
	}
	return n / d
}

func parseSeconds(s string) time.Duration {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0
	}
	return time.Duration(v * float64(time.Second))
}
