// Package audio joins synthesized segments into one playable file.
package audio

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"speaker-notes-go/internal/logger"
	"speaker-notes-go/internal/types"
)

// DefaultLeadIn is the silence placed before the first segment.
const DefaultLeadIn = 100 * time.Millisecond

// Joiner writes a lead-in silence followed by every decodable segment, in
// index order, to dst. Segments that cannot be decoded are skipped and
// reported; the returned error is reserved for failures of the join itself.
type Joiner interface {
	Join(ctx context.Context, dst string, segments []types.AudioSegment) ([]types.ChunkError, error)
}

type commandFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

// FFmpeg joins mp3 segments with the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	FFmpegPath  string
	FFprobePath string
	LeadIn      time.Duration
	SampleRate  int

	log *logger.Logger
	run commandFunc
}

func NewFFmpeg(ffmpegPath, ffprobePath string, log *logger.Logger) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if log == nil {
		log = logger.Discard()
	}
	return &FFmpeg{
		FFmpegPath:  ffmpegPath,
		FFprobePath: ffprobePath,
		LeadIn:      DefaultLeadIn,
		SampleRate:  44100,
		log:         log.Component("audio.ffmpeg"),
		run:         runCommand,
	}
}

// Duration probes a file and returns its length in seconds.
func (f *FFmpeg) Duration(ctx context.Context, path string) (float64, error) {
	out, err := f.run(ctx, f.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, err
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", strings.TrimSpace(string(out)), err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("segment has no audio")
	}
	return d, nil
}

func (f *FFmpeg) Join(ctx context.Context, dst string, segments []types.AudioSegment) ([]types.ChunkError, error) {
	var failures []types.ChunkError
	inputs := make([]string, 0, len(segments))
	for _, seg := range segments {
		if _, err := f.Duration(ctx, seg.Path); err != nil {
			if ctx.Err() != nil {
				return failures, ctx.Err()
			}
			f.log.WithError(err).WithField("index", seg.Index).Warn("skipping undecodable segment")
			failures = append(failures, types.ChunkError{
				Index: seg.Index,
				Err:   &types.StageError{Kind: types.ErrConcatenation, Index: seg.Index, Err: err},
			})
			continue
		}
		inputs = append(inputs, seg.Path)
	}

	if _, err := f.run(ctx, f.FFmpegPath, f.args(dst, inputs)...); err != nil {
		return failures, fmt.Errorf("join segments: %w", err)
	}
	f.log.WithField("segments", len(inputs)).WithField("skipped", len(failures)).Info("audio joined")
	return failures, nil
}

// args builds the ffmpeg command line: input 0 is the generated silence,
// inputs 1..n are the segments, all resampled to one format and
// concatenated in order.
func (f *FFmpeg) args(dst string, inputs []string) []string {
	rate := f.SampleRate
	if rate <= 0 {
		rate = 44100
	}
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-t", strconv.FormatFloat(f.LeadIn.Seconds(), 'f', 3, 64),
		"-i", fmt.Sprintf("anullsrc=r=%d:cl=stereo", rate),
	}
	for _, in := range inputs {
		args = append(args, "-i", in)
	}

	var filter strings.Builder
	n := len(inputs) + 1
	for i := 0; i < n; i++ {
		fmt.Fprintf(&filter, "[%d:a]aresample=%d,aformat=sample_fmts=fltp:channel_layouts=stereo[a%d];", i, rate, i)
	}
	for i := 0; i < n; i++ {
		fmt.Fprintf(&filter, "[a%d]", i)
	}
	fmt.Fprintf(&filter, "concat=n=%d:v=0:a=1[out]", n)

	return append(args,
		"-filter_complex", filter.String(),
		"-map", "[out]",
		"-codec:a", "libmp3lame", "-q:a", "2",
		dst,
	)
}
