package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/arcform/reverb/enrich"
	"github.com/arcform/reverb/errors"
	"github.com/arcform/reverb/session"
)

// Stage progress split when a session carries video: audio concat owns the
// first half of the stage, the video merge the second. Audio-only sessions
// give the whole stage to the concat.
const (
	concatOnlyEnd   = 100
	concatWithVideo = 50
)

// FFmpeg runs media processing through external ffmpeg/ffprobe binaries.
// Output is written to a temp file and renamed into place, so an interrupted
// run never corrupts a previously produced artifact.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	outputDir   string
	log         *zap.SugaredLogger

	mu      sync.RWMutex
	quality Quality
}

// Config configures the ffmpeg adapter
type Config struct {
	FFmpegPath  string
	FFprobePath string
	// OutputDir receives optimized artifacts; empty means beside the input
	OutputDir string
	Quality   Quality
}

// NewFFmpeg creates an ffmpeg-backed media stage
func NewFFmpeg(cfg Config, logger *zap.SugaredLogger) *FFmpeg {
	ffmpegPath := cfg.FFmpegPath
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	ffprobePath := cfg.FFprobePath
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		outputDir:   cfg.OutputDir,
		quality:     cfg.Quality,
		log:         logger.Named("media"),
	}
}

// SetQuality switches the export quality for subsequent runs. Safe to call
// while jobs are in flight; each ffmpeg invocation reads the current preset.
func (f *FFmpeg) SetQuality(q Quality) {
	f.mu.Lock()
	f.quality = q
	f.mu.Unlock()
}

// ExportQuality returns the current export quality
func (f *FFmpeg) ExportQuality() Quality {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.quality
}

// Process concatenates the session's audio segments and, when the session has
// a screen recording, merges them into a single optimized video
func (f *FFmpeg) Process(ctx context.Context, sess *session.Session, job *enrich.Job, progress func(int)) (*session.OptimizedVideo, error) {
	if len(sess.AudioSegments) == 0 && sess.Video == nil {
		return nil, errors.New("session has no audio segments or video to process")
	}

	outputPath := f.outputPath(sess)
	withVideo := job.Options.IncludeVideo && sess.Video != nil

	var inputSize int64
	var audioPath string

	if len(sess.AudioSegments) > 0 {
		concatEnd := concatOnlyEnd
		if withVideo {
			concatEnd = concatWithVideo
		}

		var err error
		audioPath, err = f.concatAudio(ctx, sess, outputPath, withVideo, func(p int) {
			progress(p * concatEnd / 100)
		})
		if err != nil {
			return nil, err
		}
		inputSize += pathsSize(segmentPaths(sess.AudioSegments))
	}

	finalPath := outputPath
	if withVideo {
		inputSize += pathsSize([]string{sess.Video.Path})
		if err := f.mergeVideoAudio(ctx, sess.Video.Path, audioPath, outputPath, func(p int) {
			progress(concatWithVideo + p*concatWithVideo/100)
		}); err != nil {
			return nil, err
		}
	} else if audioPath != outputPath {
		finalPath = audioPath
	}

	progress(100)

	artifact := &session.OptimizedVideo{Path: finalPath}

	if duration, err := f.probeDuration(ctx, finalPath); err == nil {
		artifact.Duration = duration
	} else {
		f.log.Warnw("Failed to probe artifact duration",
			"path", finalPath,
			"error", err)
	}

	if info, err := os.Stat(finalPath); err == nil {
		artifact.SizeBytes = info.Size()
		if inputSize > 0 {
			artifact.CompressionRatio = float64(info.Size()) / float64(inputSize)
		}
	}

	return artifact, nil
}

// concatAudio joins the session's audio segments into one file.
// Returns the path of the produced audio artifact.
func (f *FFmpeg) concatAudio(ctx context.Context, sess *session.Session, outputPath string, intermediate bool, progress func(int)) (string, error) {
	paths := segmentPaths(sess.AudioSegments)
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return "", errors.Wrapf(err, "audio segment missing: %s", p)
		}
	}

	target := outputPath
	if intermediate {
		target = strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + "-audio.m4a"
	}

	listFile, err := writeConcatList(paths, target)
	if err != nil {
		return "", err
	}
	defer os.Remove(listFile)

	progress(10)

	tmpPath := target + ".tmp" + filepath.Ext(target)
	args := BuildConcatArgs(listFile, tmpPath, f.ExportQuality())

	if err := f.run(ctx, f.ffmpegPath, args); err != nil {
		os.Remove(tmpPath)
		return "", errors.Wrapf(err, "ffmpeg concat failed for session %s", sess.ID)
	}

	progress(90)

	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return "", errors.Wrap(err, "failed to move concat output into place")
	}

	progress(100)
	return target, nil
}

// mergeVideoAudio muxes the concatenated audio under the screen recording
func (f *FFmpeg) mergeVideoAudio(ctx context.Context, videoPath, audioPath, outputPath string, progress func(int)) error {
	if _, err := os.Stat(videoPath); err != nil {
		return errors.Wrapf(err, "video file missing: %s", videoPath)
	}

	progress(10)

	tmpPath := outputPath + ".tmp" + filepath.Ext(outputPath)
	args := BuildMergeArgs(videoPath, audioPath, tmpPath, f.ExportQuality())

	if err := f.run(ctx, f.ffmpegPath, args); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "ffmpeg merge failed")
	}

	progress(90)

	if err := os.Rename(tmpPath, outputPath); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "failed to move merge output into place")
	}

	// Intermediate audio is no longer needed once muxed
	if audioPath != "" && audioPath != outputPath {
		os.Remove(audioPath)
	}

	progress(100)
	return nil
}

// probeDuration reads the artifact duration via ffprobe
func (f *FFmpeg) probeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, f.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		return 0, errors.Wrap(err, "ffprobe failed")
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, errors.Wrap(err, "failed to parse ffprobe duration")
	}
	return duration, nil
}

// run executes an external command, capturing stderr for diagnostics
func (f *FFmpeg) run(ctx context.Context, bin string, args []string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	f.log.Debugw("Running media command",
		"bin", bin,
		"args", strings.Join(args, " "))

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Wrapf(err, "%s: %s", filepath.Base(bin), lastLine(stderr.String()))
	}
	return nil
}

// BuildConcatArgs builds the ffmpeg argument list for audio concatenation
func BuildConcatArgs(listFile, outputPath string, q Quality) []string {
	return []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-c:a", "aac",
		"-b:a", q.AudioBitrate(),
		"-loglevel", "error",
		outputPath,
	}
}

// BuildMergeArgs builds the ffmpeg argument list for muxing audio under video
func BuildMergeArgs(videoPath, audioPath, outputPath string, q Quality) []string {
	args := []string{
		"-y",
		"-i", videoPath,
	}
	if audioPath != "" {
		args = append(args, "-i", audioPath)
	}
	args = append(args,
		"-c:v", "libx264",
		"-crf", q.CRF(),
		"-preset", q.Preset(),
	)
	if audioPath != "" {
		args = append(args,
			"-c:a", "aac",
			"-b:a", q.AudioBitrate(),
			"-map", "0:v:0",
			"-map", "1:a:0",
			"-shortest",
		)
	}
	args = append(args,
		"-movflags", "+faststart",
		"-loglevel", "error",
		outputPath,
	)
	return args
}

// writeConcatList writes the ffmpeg concat demuxer list file beside the target
func writeConcatList(paths []string, target string) (string, error) {
	var b strings.Builder
	for _, p := range paths {
		// Concat demuxer quoting: single quotes, embedded quotes escaped
		escaped := strings.ReplaceAll(p, "'", `'\''`)
		fmt.Fprintf(&b, "file '%s'\n", escaped)
	}

	listFile := target + ".list"
	if err := os.WriteFile(listFile, []byte(b.String()), 0644); err != nil {
		return "", errors.Wrap(err, "failed to write concat list")
	}
	return listFile, nil
}

// outputPath decides where the optimized artifact lands
func (f *FFmpeg) outputPath(sess *session.Session) string {
	dir := f.outputDir
	if dir == "" {
		if sess.Video != nil {
			dir = filepath.Dir(sess.Video.Path)
		} else if len(sess.AudioSegments) > 0 {
			dir = filepath.Dir(sess.AudioSegments[0].Path)
		} else {
			dir = os.TempDir()
		}
	}
	return filepath.Join(dir, sess.ID+"-optimized.mp4")
}

func segmentPaths(segments []session.AudioSegment) []string {
	paths := make([]string, 0, len(segments))
	for _, seg := range segments {
		paths = append(paths, seg.Path)
	}
	return paths
}

func pathsSize(paths []string) int64 {
	var total int64
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil {
			total += info.Size()
		}
	}
	return total
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.LastIndexByte(s, '\n'); idx >= 0 {
		return s[idx+1:]
	}
	return s
}
